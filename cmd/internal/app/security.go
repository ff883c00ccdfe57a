package app

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

// ValidateSecurityConfig enforces the transport policy at startup.
//
// A realtime bearer token is never sent over plaintext ws:// to a non-loopback host
// unless AllowInsecureToken is set, and an origin-restricted change stream needs at
// least one allowed origin.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.RealtimeToken != "" && cfg.RealtimeURL != "" && !cfg.AllowInsecureToken {
		u, err := url.Parse(cfg.RealtimeURL)
		if err != nil {
			return err
		}
		if u.Scheme == "ws" && !isLoopbackHost(u.Hostname()) {
			return errors.New("security policy: GYMCHAT_REALTIME_TOKEN requires wss:// for non-loopback hosts (set GYMCHAT_REALTIME_ALLOW_INSECURE_TOKEN=true to override)")
		}
	}

	if cfg.EventsOriginRequired && len(cfg.EventsAllowedOrigins) == 0 {
		return errors.New("security policy: GYMCHAT_EVENTS_ORIGIN_REQUIRED=true but GYMCHAT_EVENTS_ALLOWED_ORIGINS is empty")
	}

	return nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
