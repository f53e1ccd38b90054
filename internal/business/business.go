package business

import (
	"context"
	"fmt"
	"sync"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-keeper/internal/audit"
	"github.com/openkcm/session-keeper/internal/business/server"
	"github.com/openkcm/session-keeper/internal/config"
	"github.com/openkcm/session-keeper/internal/identity"
	"github.com/openkcm/session-keeper/pkg/session"
	sessionfile "github.com/openkcm/session-keeper/pkg/session/file"
)

// keeper bundles a running session manager with what has to be released
// when the process stops.
type keeper struct {
	manager   *session.Manager
	auditor   *audit.Auditor
	persister session.Persister

	closers []func()
}

func (k *keeper) close() {
	k.manager.Close()

	for i := len(k.closers) - 1; i >= 0; i-- {
		k.closers[i]()
	}
}

// KeeperMain restores the session, keeps it fresh and serves the local
// session API and the gRPC health endpoint until ctx is done.
func KeeperMain(ctx context.Context, cfg *config.Config) error {
	k, err := initKeeper(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the session keeper: %w", err)
	}
	defer k.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// errChan is used to capture the first error and shutdown the servers.
	errChan := make(chan error, 3)

	// wg is used to wait for all servers to shutdown.
	var wg sync.WaitGroup

	wg.Go(func() {
		errChan <- server.StartHTTPServer(ctx, cfg, k.manager, k.auditor)
	})

	wg.Go(func() {
		errChan <- server.StartGRPCServer(ctx, cfg, k.manager)
	})

	switch p := k.persister.(type) {
	case nil:
	case *sessionfile.Persister:
		wg.Go(func() {
			errChan <- watchSessionFile(ctx, p, k.manager, cfg.Keeper.WatchDebounce)
		})
	default:
		wg.Go(func() {
			errChan <- pollSession(ctx, k.manager, cfg.Keeper.SessionConfig().MonitorInterval)
		})
	}

	// wait for any error to initiate the shutdown
	if err := <-errChan; err != nil {
		slogctx.Error(ctx, "Shutting down servers", "error", err)
	}
	cancel()

	wg.Wait()

	return nil
}

func initKeeper(ctx context.Context, cfg *config.Config) (_ *keeper, err error) {
	if err := cfg.Identity.Validate(); err != nil {
		return nil, err
	}

	persister, closePersister, err := persisterFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating session persister: %w", err)
	}

	k := &keeper{persister: persister, closers: []func(){closePersister}}
	defer func() {
		if err != nil {
			closePersister()
		}
	}()

	httpClient, err := loadHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading http client: %w", err)
	}

	bridge := identity.NewBridge(cfg.Identity.Issuer, cfg.Identity.ClientAuth.ClientID, httpClient,
		identity.WithAudience(cfg.Identity.Audience),
		identity.WithScopes(cfg.Identity.Scopes...),
		identity.WithDiscoveryTTL(cfg.Identity.DiscoveryTTL),
	)

	k.manager, err = session.NewManager(cfg.Keeper.SessionConfig(), bridge, persister)
	if err != nil {
		return nil, fmt.Errorf("creating session manager: %w", err)
	}

	var auditLogger *otlpaudit.AuditLogger
	if cfg.Audit.Endpoint != "" {
		auditLogger, err = otlpaudit.NewLogger(&cfg.Audit)
		if err != nil {
			k.manager.Close()
			return nil, fmt.Errorf("creating audit logger: %w", err)
		}
	}

	k.auditor = audit.New(auditLogger, cfg.Keeper.ID)
	k.closers = append(k.closers, k.auditor.Attach(k.manager))

	if err := k.manager.Init(ctx); err != nil {
		k.manager.Close()
		return nil, err
	}

	return k, nil
}
