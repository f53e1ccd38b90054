package business

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-keeper/internal/config"
	"github.com/openkcm/session-keeper/pkg/session"
)

// out receives the command line output of login and status.
var out io.Writer = os.Stdout

type statusOutput struct {
	Authenticated bool       `json:"authenticated"`
	SubjectID     string     `json:"subjectId,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	Expired       bool       `json:"expired,omitempty"`
}

// LoginMain exchanges credential for a session and persists it. A keeper
// sharing the same storage picks the new session up.
func LoginMain(ctx context.Context, cfg *config.Config, credential string) error {
	k, err := initKeeper(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the session keeper: %w", err)
	}
	defer k.close()

	s, err := k.manager.Login(ctx, credential)
	if err != nil {
		k.auditor.LoginFailed(ctx, err.Error())
		return fmt.Errorf("logging in: %w", err)
	}

	k.auditor.LoginSucceeded(ctx, s.SubjectID)

	return printStatus(s, true, time.Now())
}

// LogoutMain clears the persisted session.
func LogoutMain(ctx context.Context, cfg *config.Config) error {
	k, err := initKeeper(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the session keeper: %w", err)
	}
	defer k.close()

	if err := k.manager.Logout(ctx); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}

	slogctx.Info(ctx, "Session cleared")

	return nil
}

// StatusMain prints the persisted session without contacting the identity
// provider.
func StatusMain(ctx context.Context, cfg *config.Config) error {
	persister, closeFn, err := persisterFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating session persister: %w", err)
	}
	defer closeFn()

	store := session.NewStore(persister)
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	s, ok := store.Get()

	return printStatus(s, ok, time.Now())
}

func printStatus(s session.Session, ok bool, now time.Time) error {
	status := statusOutput{}
	if ok {
		expiresAt := s.ExpiresAt
		status = statusOutput{
			Authenticated: true,
			SubjectID:     s.SubjectID,
			ExpiresAt:     &expiresAt,
			Expired:       !now.Before(expiresAt),
		}
	}

	if err := json.NewEncoder(out).Encode(status); err != nil {
		return fmt.Errorf("writing status: %w", err)
	}

	return nil
}
