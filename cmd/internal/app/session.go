package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/chatcache"
	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/directory"
	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/transport/loopback"
	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/transport/wsclient"
)

// Session is one logged-in dashboard session: its cache, the transport under it and the
// room directory. Close ends it (logout).
type Session struct {
	Cache     *chatcache.Service
	Directory directory.Directory

	// Loopback is set when no realtime server is configured.
	Loopback *loopback.Hub

	log            Logger
	pool           *pgxpool.Pool
	closeTransport func() error
}

// OpenSession wires transport, directory and cache from cfg.
func OpenSession(ctx context.Context, cfg Config, log Logger) (*Session, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	s := &Session{log: log}

	var (
		transport chatcache.Transport
		isSelf    func(string) bool
	)
	if cfg.RealtimeURL == "" {
		hub := loopback.NewHub(log)
		s.Loopback = hub
		s.closeTransport = func() error { return nil }
		transport, isSelf = hub, hub.OwnsSession
		log.Info("session.transport", "kind", "loopback")
	} else {
		ws, err := wsclient.New(log, wsclient.Config{
			URL:    cfg.RealtimeURL,
			Origin: cfg.RealtimeOrigin,
			Token:  cfg.RealtimeToken,
		})
		if err != nil {
			return nil, err
		}
		s.closeTransport = ws.Close
		transport, isSelf = ws, ws.OwnsSession
		log.Info("session.transport", "kind", "wsclient", "url", cfg.RealtimeURL)
	}

	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			_ = s.closeTransport()
			return nil, fmt.Errorf("db: %w", err)
		}
		s.pool = pool
	}

	dir, err := newDirectory(cfg, s.pool)
	if err != nil {
		s.release()
		return nil, err
	}
	s.Directory = dir

	cache, err := chatcache.New(transport,
		chatcache.WithLogger(log),
		chatcache.WithCapacity(cfg.CacheCapacity),
		chatcache.WithPageSize(cfg.HistoryPageSize),
		chatcache.WithFetchTimeout(cfg.FetchTimeout),
		chatcache.WithSendTimeout(cfg.SendTimeout),
		chatcache.WithStrictInvariants(cfg.StrictInvariants),
		chatcache.WithSelfName(cfg.SelfName),
		chatcache.WithDecoder(chatcache.V1Decoder{IsSelf: isSelf}),
	)
	if err != nil {
		s.release()
		return nil, err
	}
	s.Cache = cache

	return s, nil
}

func newDirectory(cfg Config, pool *pgxpool.Pool) (directory.Directory, error) {
	if pool != nil && cfg.DirectoryUser != "" {
		return directory.NewPostgres(pool, cfg.DirectoryUser, directory.WithSchema(cfg.DBSchema))
	}
	return directory.ParseStatic(cfg.Rooms)
}

// Pool returns the DB pool, nil when no database is configured.
func (s *Session) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Close clears the cache, then closes the transport and the pool.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	if s.Cache != nil {
		s.Cache.Clear()
	}
	return s.release()
}

func (s *Session) release() error {
	var errs []error
	if s.closeTransport != nil {
		if err := s.closeTransport(); err != nil {
			errs = append(errs, fmt.Errorf("transport close: %w", err))
		}
		s.closeTransport = nil
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return errors.Join(errs...)
}
