package business

import (
	"context"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-keeper/internal/config"
	"github.com/openkcm/session-keeper/internal/serviceerr"
	"github.com/openkcm/session-keeper/pkg/session"
	sessionfile "github.com/openkcm/session-keeper/pkg/session/file"
	sessionsql "github.com/openkcm/session-keeper/pkg/session/sql"
	sessionvalkey "github.com/openkcm/session-keeper/pkg/session/valkey"
)

func noop() {}

// persisterFromConfig returns the session persister selected by storage.type.
// The memory storage has no persister and keeps the session for the life of
// the process.
func persisterFromConfig(ctx context.Context, cfg *config.Config) (_ session.Persister, closeFn func(), _ error) {
	switch cfg.Storage.Type {
	case config.StorageValKey:
		client, err := valkeyClientFromConfig(cfg)
		if err != nil {
			return nil, nil, err
		}

		return sessionvalkey.NewPersister(client, cfg.ValKey.Prefix, cfg.Keeper.ID), client.Close, nil
	case config.StoragePostgres:
		db, err := pgxPoolFromConfig(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}

		return sessionsql.NewPersister(db, cfg.Keeper.ID), db.Close, nil
	case config.StorageFile:
		p, err := sessionfile.NewPersister(cfg.File.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("creating file persister: %w", err)
		}

		return p, noop, nil
	case config.StorageMemory:
		slogctx.Warn(ctx, "Session storage is in memory; the session will not survive a restart")
		return nil, noop, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", serviceerr.ErrUnknownStorage, cfg.Storage.Type)
	}
}

func pgxPoolFromConfig(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connStr, err := cfg.Database.URL()
	if err != nil {
		return nil, fmt.Errorf("making dsn from config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("initialising pgxpool connection: %w", err)
	}

	return db, nil
}

func valkeyClientFromConfig(cfg *config.Config) (valkey.Client, error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Host)
	if err != nil {
		return nil, fmt.Errorf("loading valkey host: %w", err)
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.User)
	if err != nil {
		return nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Password)
	if err != nil {
		return nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyOpts := valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	}

	if cfg.ValKey.SecretRef.Type == commoncfg.MTLSSecretType {
		tlsConfig, err := commoncfg.LoadMTLSConfig(&cfg.ValKey.SecretRef.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading valkey mTLS config from secret ref: %w", err)
		}

		valkeyOpts.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(valkeyOpts)
	if err != nil {
		return nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return client, nil
}
