package api

import "time"

const (
	defaultMaxBodyBytes   int64 = 16 << 10
	defaultEventQueueSize       = 64
	defaultWriteTimeout         = 5 * time.Second
	defaultHeartbeatEvery       = 25 * time.Second
	defaultHeartbeatWait        = 5 * time.Second
)

// Config tunes request limits and the change stream.
type Config struct {
	MaxBodyBytes int64

	// Origin policy for GET /api/events.
	OriginRequired bool
	AllowedOrigins []string

	EventQueueSize int
	WriteTimeout   time.Duration
	HeartbeatEvery time.Duration
	HeartbeatWait  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = defaultEventQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = defaultHeartbeatEvery
	}
	if c.HeartbeatWait <= 0 {
		c.HeartbeatWait = defaultHeartbeatWait
	}
	return c
}
