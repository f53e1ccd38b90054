// Package postgrestest runs a throwaway PostgreSQL with the keeper schema
// applied and one keeper session already stored.
package postgrestest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"

	slogctx "github.com/veqryn/slog-context"

	migrations "github.com/openkcm/session-keeper/sql"
)

const (
	Image      = "postgres:17-alpine"
	DBHost     = "localhost"
	DBUser     = "postgres"
	DBPassword = "secret"
	DBName     = "session_keeper"
)

// Seeded row.
const (
	KeeperID     = "keeper-one"
	AccessToken  = "access-one"
	RefreshToken = "refresh-one"
	SubjectID    = "subject-one"
)

// ExpiryTime is the expiry of the seeded session.
//
//nolint:gosmopolitan
var ExpiryTime = time.Now().Add(30 * 24 * time.Hour).Truncate(time.Microsecond).Local()

// Start runs PostgreSQL, applies the embedded migrations and seeds the
// session for KeeperID. It returns a pool, the mapped port and a terminate
// func. Any setup failure panics.
func Start(ctx context.Context) (*pgxpool.Pool, nat.Port, func(ctx context.Context)) {
	container, err := postgres.Run(
		ctx,
		Image,
		postgres.WithDatabase(DBName),
		postgres.WithUsername(DBUser),
		postgres.WithPassword(DBPassword),
		postgres.BasicWaitStrategies(),
	)
	must(ctx, err, "starting postgres container")

	port, err := container.MappedPort(ctx, nat.Port("5432/tcp"))
	must(ctx, err, "mapping postgres port")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	must(ctx, err, "building postgres connection string")

	must(ctx, applySchema(dsn), "applying schema")

	pool, err := pgxpool.New(ctx, dsn)
	must(ctx, err, "connecting to postgres")

	_, err = pool.Exec(ctx, `INSERT INTO keeper_sessions
		(keeper_id, access_token, refresh_token, subject_id, expires_at, issued_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		KeeperID, AccessToken, RefreshToken, SubjectID, ExpiryTime)
	must(ctx, err, "seeding keeper session")

	return pool, port, func(ctx context.Context) {
		must(ctx, container.Terminate(ctx), "terminating postgres container")
	}
}

// applySchema runs the migrations through golang-migrate, which expects the
// pgx5 scheme instead of postgres.
func applySchema(dsn string) error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, "pgx5://"+strings.TrimPrefix(dsn, "postgres://"))
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

func must(ctx context.Context, err error, what string) {
	if err == nil {
		return
	}

	slogctx.Error(ctx, "PostgreSQL test setup failed", "step", what, "error", err)
	panic(fmt.Errorf("%s: %w", what, err))
}
