// Package sessionsql persists the keeper session in the keeper_sessions
// PostgreSQL table, one row per keeper.
package sessionsql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openkcm/session-keeper/internal/serviceerr"
	"github.com/openkcm/session-keeper/pkg/session"
)

type Persister struct {
	db       *pgxpool.Pool
	keeperID string
}

var _ session.Persister = (*Persister)(nil)

func NewPersister(db *pgxpool.Pool, keeperID string) *Persister {
	return &Persister{
		db:       db,
		keeperID: keeperID,
	}
}

func (p *Persister) Load(ctx context.Context) (session.Session, error) {
	var s session.Session
	err := p.db.QueryRow(ctx,
		`SELECT access_token, refresh_token, subject_id, expires_at, issued_at
			 FROM keeper_sessions WHERE keeper_id = $1;`,
		p.keeperID,
	).Scan(&s.AccessToken, &s.RefreshToken, &s.SubjectID, &s.ExpiresAt, &s.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Session{}, serviceerr.ErrNotFound
		}

		return session.Session{}, fmt.Errorf("scanning rows: %w", err)
	}

	return s, nil
}

// Save writes the whole pair in one statement.
func (p *Persister) Save(ctx context.Context, s session.Session) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO keeper_sessions (keeper_id, access_token, refresh_token, subject_id, expires_at, issued_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, now())
			 ON CONFLICT (keeper_id) DO UPDATE
			 SET access_token = EXCLUDED.access_token,
			     refresh_token = EXCLUDED.refresh_token,
			     subject_id = EXCLUDED.subject_id,
			     expires_at = EXCLUDED.expires_at,
			     issued_at = EXCLUDED.issued_at,
			     updated_at = now();`,
		p.keeperID, s.AccessToken, s.RefreshToken, s.SubjectID, s.ExpiresAt, s.IssuedAt,
	); err != nil {
		return fmt.Errorf("upserting keeper session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (p *Persister) Delete(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM keeper_sessions WHERE keeper_id = $1;`, p.keeperID); err != nil {
		return fmt.Errorf("executing sql query: %w", err)
	}

	return nil
}
