package business

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/pressly/goose/v3"
	"github.com/samber/oops"

	_ "github.com/jackc/pgx/v5/stdlib"

	slogctx "github.com/veqryn/slog-context"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/openkcm/session-keeper/internal/config"
	migrations "github.com/openkcm/session-keeper/sql"
)

const pgxDriver = "pgx"

// MigrateMain brings the keeper_sessions schema up to date. Running it again
// on a migrated database applies nothing.
func MigrateMain(ctx context.Context, cfg *config.Config) error {
	dsn, err := cfg.Database.URL()
	if err != nil {
		return fmt.Errorf("making connection string from config: %w", err)
	}

	db, closeDB, err := openInstrumentedDB(ctx, dsn)
	if err != nil {
		return oops.In("migrate").Wrapf(err, "opening database")
	}
	defer closeDB()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	if len(results) == 0 {
		slogctx.Info(ctx, "Session schema already up to date")
		return nil
	}

	for _, res := range results {
		slogctx.Info(ctx, "Applied session schema migration",
			"version", res.Source.Version, "path", res.Source.Path, "duration", res.Duration)
	}

	return nil
}

func openInstrumentedDB(ctx context.Context, dsn string) (*sql.DB, func(), error) {
	attrs := otelsql.WithAttributes(semconv.DBSystemNamePostgreSQL)

	db, err := otelsql.Open(pgxDriver, dsn, attrs)
	if err != nil {
		return nil, nil, err
	}

	reg, err := otelsql.RegisterDBStatsMetrics(db, attrs)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("registering db stats metrics: %w", err)
	}

	return db, func() {
		if err := reg.Unregister(); err != nil {
			slogctx.Warn(ctx, "Failed to unregister db stats metrics", "error", err)
		}
		if err := db.Close(); err != nil {
			slogctx.Warn(ctx, "Failed to close database", "error", err)
		}
	}, nil
}
