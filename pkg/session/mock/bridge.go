package sessionmock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/openkcm/session-keeper/pkg/session"
)

// Bridge is a scripted IdentityBridge. When ExchangeFunc or RefreshFunc is
// nil the call returns an empty TokenPair and no error.
type Bridge struct {
	ExchangeFunc func(ctx context.Context, credential string) (session.TokenPair, error)
	RefreshFunc  func(ctx context.Context, refreshToken string) (session.TokenPair, error)

	exchanges atomic.Int64
	refreshes atomic.Int64

	mu            sync.Mutex
	refreshTokens []string
}

func (b *Bridge) Exchange(ctx context.Context, credential string) (session.TokenPair, error) {
	b.exchanges.Add(1)

	if b.ExchangeFunc == nil {
		return session.TokenPair{}, nil
	}

	return b.ExchangeFunc(ctx, credential)
}

func (b *Bridge) Refresh(ctx context.Context, refreshToken string) (session.TokenPair, error) {
	b.refreshes.Add(1)

	b.mu.Lock()
	b.refreshTokens = append(b.refreshTokens, refreshToken)
	b.mu.Unlock()

	if b.RefreshFunc == nil {
		return session.TokenPair{}, nil
	}

	return b.RefreshFunc(ctx, refreshToken)
}

func (b *Bridge) Exchanges() int {
	return int(b.exchanges.Load())
}

func (b *Bridge) Refreshes() int {
	return int(b.refreshes.Load())
}

// RefreshTokens lists the refresh tokens presented, in call order.
func (b *Bridge) RefreshTokens() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.refreshTokens...)
}
