package business

import (
	"context"
	"fmt"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-keeper/pkg/session"
	sessionfile "github.com/openkcm/session-keeper/pkg/session/file"
)

// watchSessionFile reloads the session whenever another process, such as
// the login command, rewrites the session file.
func watchSessionFile(ctx context.Context, p *sessionfile.Persister, manager *session.Manager, debounce time.Duration) error {
	slogctx.Info(ctx, "Watching session file", "path", p.Path())

	err := p.Watch(ctx, debounce, func(ctx context.Context) {
		if err := manager.Reload(ctx); err != nil {
			slogctx.Error(ctx, "Failed to reload session file", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("watching session file: %w", err)
	}

	return nil
}

// pollSession reloads the session from shared storage every interval so that
// a login or logout made by another process is picked up.
func pollSession(ctx context.Context, manager *session.Manager, interval time.Duration) error {
	c := time.Tick(interval)
	for {
		select {
		case <-c:
			if err := manager.Reload(ctx); err != nil {
				slogctx.Error(ctx, "Failed to reload session", "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
