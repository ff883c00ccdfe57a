package app

import "context"

// Run builds an App from cfg and serves until ctx is done.
// It returns an error instead of exiting so the caller's defers run.
func Run(ctx context.Context, cfg Config, log Logger) error {
	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
