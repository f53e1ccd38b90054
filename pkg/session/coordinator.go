package session

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	slogctx "github.com/veqryn/slog-context"
)

const refreshFlightKey = "refresh"

// Coordinator funnels every refresh through a single in-flight bridge call.
// Callers arriving while a refresh is running wait for its outcome instead of
// issuing their own.
type Coordinator struct {
	bridge   IdentityBridge
	store    *Store
	observer *Observer
	metrics  *metrics
	limiter  *rate.Limiter
	timeout  time.Duration
	now      func() time.Time

	group singleflight.Group
}

func NewCoordinator(bridge IdentityBridge, store *Store, observer *Observer, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()

	return &Coordinator{
		bridge:   bridge,
		store:    store,
		observer: observer,
		metrics:  newMetrics(),
		limiter:  rate.NewLimiter(cfg.RefreshRate, cfg.RefreshBurst),
		timeout:  cfg.RefreshTimeout,
		now:      time.Now,
	}
}

// RefreshNow renews the stored pair, joining the running refresh if there is
// one. If ctx ends first, RefreshNow returns ctx.Err() while the shared
// refresh carries on for the other callers.
func (c *Coordinator) RefreshNow(ctx context.Context) (Session, error) {
	if snap := c.store.snapshot(); !snap.present || !snap.session.Refreshable() {
		return Session{}, ErrNoSession
	}

	ch := c.group.DoChan(refreshFlightKey, func() (any, error) {
		return c.refresh(ctx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.add(ctx, c.metrics.coalesced, "outcome", outcome(res.Err))
		}
		if res.Err != nil {
			return Session{}, res.Err
		}

		//nolint:forcetypeassert
		return res.Val.(Session), nil
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

func (c *Coordinator) refresh(parent context.Context) (Session, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.timeout)
	defer cancel()

	snap := c.store.snapshot()
	if !snap.present || !snap.session.Refreshable() {
		return Session{}, ErrNoSession
	}

	ctx = slogctx.With(ctx, "subject_id", snap.session.SubjectID)

	if !c.limiter.Allow() {
		c.metrics.add(ctx, c.metrics.refreshes, "outcome", "throttled")
		return Session{}, NewRetryableError("refresh", ErrRefreshThrottled)
	}

	pair, err := c.bridge.Refresh(ctx, snap.session.RefreshToken)
	if err != nil {
		authErr := classify("refresh", err)
		c.metrics.add(ctx, c.metrics.refreshes, "outcome", authErr.Kind.String())

		if authErr.Kind == Terminal {
			c.invalidate(ctx, snap, authErr)
		} else {
			slogctx.Warn(ctx, "Refresh failed, keeping the current session", "error", authErr)
		}

		return Session{}, authErr
	}

	next, err := c.sessionFromPair(ctx, snap.session, pair)
	if err != nil {
		c.metrics.add(ctx, c.metrics.refreshes, "outcome", "retryable")
		return Session{}, NewRetryableError("refresh", err)
	}

	stored, err := c.store.setIfEpoch(ctx, next, snap.epoch)
	if !stored {
		c.metrics.add(ctx, c.metrics.refreshes, "outcome", "superseded")
		slogctx.Info(ctx, "Discarding refresh result for a session that was replaced or cleared")
		return Session{}, ErrSessionSuperseded
	}
	if err != nil {
		slogctx.Warn(ctx, "Refreshed session is live but not persisted", "error", err)
	}

	c.metrics.add(ctx, c.metrics.refreshes, "outcome", "success")
	slogctx.Info(ctx, "Refreshed session", "expires_at", next.ExpiresAt)

	return next, nil
}

// sessionFromPair turns a refreshed pair into a session. An access token that
// cannot be decoded is kept but marked as expiring now, so the monitor will
// try again; an earlier expiry than before is only reported.
func (c *Coordinator) sessionFromPair(ctx context.Context, prev Session, pair TokenPair) (Session, error) {
	now := c.now()

	next, err := NewSession(pair, now)
	switch {
	case errors.Is(err, ErrInvalidTokenPair):
		return Session{}, err
	case err != nil:
		c.metrics.add(ctx, c.metrics.anomalies, "kind", "undecodable")
		slogctx.Warn(ctx, "Refreshed access token cannot be decoded, treating it as expired", "error", err)

		return Session{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			ExpiresAt:    now,
			SubjectID:    prev.SubjectID,
			IssuedAt:     now,
		}, nil
	}

	if next.SubjectID != prev.SubjectID {
		slogctx.Warn(ctx, "Refresh returned a different subject", "new_subject_id", next.SubjectID)
	} else if next.ExpiresAt.Before(prev.ExpiresAt) {
		c.metrics.add(ctx, c.metrics.anomalies, "kind", "expiry_regressed")
		slogctx.Warn(ctx, "Refreshed access token expires earlier than the one it replaces",
			"previous_expires_at", prev.ExpiresAt, "expires_at", next.ExpiresAt)
	}

	return next, nil
}

// invalidate clears the session the failed refresh started from. Only the call
// that actually clears it notifies the observer.
func (c *Coordinator) invalidate(ctx context.Context, snap snapshot, cause error) {
	cleared, err := c.store.clearIfEpoch(ctx, snap.epoch, ReasonInvalidated)
	if err != nil {
		slogctx.Error(ctx, "Clearing the rejected session was not persisted", "error", err)
	}
	if !cleared {
		return
	}

	c.metrics.add(ctx, c.metrics.invalidations, "reason", string(InvalidationRefreshRejected))
	slogctx.Warn(ctx, "Refresh token rejected, session cleared", "error", cause)

	c.observer.notify(ctx, Invalidation{
		Reason:    InvalidationRefreshRejected,
		SubjectID: snap.session.SubjectID,
		Err:       cause,
		At:        c.now(),
	})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNoSession):
		return "no_session"
	case errors.Is(err, ErrSessionSuperseded):
		return "superseded"
	case IsTerminal(err):
		return "terminal"
	default:
		return "retryable"
	}
}
