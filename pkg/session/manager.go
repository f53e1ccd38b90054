// Package session keeps an application access/refresh token pair alive.
//
// The Manager ties together the Store (current pair, persisted), the
// Coordinator (single in-flight refresh), the Monitor (proactive refresh
// before expiry) and the Observer (notification when the session ends).
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"
)

type Manager struct {
	bridge      IdentityBridge
	store       *Store
	observer    *Observer
	coordinator *Coordinator
	monitor     *Monitor
	metrics     *metrics
	now         func() time.Time

	lifecycleMu sync.Mutex
	baseCtx     context.Context // carries the process logger into the monitor

	unsubscribe func()
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
		m.coordinator.now = now
		m.monitor.now = now
	}
}

func NewManager(cfg Config, bridge IdentityBridge, persister Persister, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating session config: %w", err)
	}

	store := NewStore(persister)
	observer := NewObserver()
	coordinator := NewCoordinator(bridge, store, observer, cfg)

	m := &Manager{
		bridge:      bridge,
		store:       store,
		observer:    observer,
		coordinator: coordinator,
		monitor:     NewMonitor(store, coordinator, cfg),
		metrics:     newMetrics(),
		now:         time.Now,
		baseCtx:     context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.unsubscribe = store.Subscribe(m.followLifecycle)

	return m, nil
}

// Init restores a persisted session, starting the monitor if one is found.
// The monitor logs through ctx's logger attributes from then on.
func (m *Manager) Init(ctx context.Context) error {
	m.lifecycleMu.Lock()
	m.baseCtx = context.WithoutCancel(ctx)
	m.lifecycleMu.Unlock()

	if err := m.store.Load(ctx); err != nil {
		return fmt.Errorf("restoring session: %w", err)
	}

	if s, ok := m.store.Get(); ok {
		slogctx.Info(ctx, "Restored persisted session", "subject_id", s.SubjectID, "expires_at", s.ExpiresAt)
	}

	return nil
}

// Reload picks up a session written to the persister by another process.
func (m *Manager) Reload(ctx context.Context) error {
	changed, err := m.store.Reload(ctx)
	if err != nil {
		return fmt.Errorf("reloading session: %w", err)
	}
	if changed {
		slogctx.Info(ctx, "Session changed outside this process")
	}

	return nil
}

// Login exchanges an identity provider credential for a new session. It is
// also the entry point for automatic exchange after an external sign-in.
func (m *Manager) Login(ctx context.Context, credential string) (Session, error) {
	pair, err := m.bridge.Exchange(ctx, credential)
	if err != nil {
		return Session{}, classify("exchange", err)
	}

	sess, err := NewSession(pair, m.now())
	if err != nil {
		return Session{}, NewTerminalError("exchange", fmt.Errorf("decoding issued access token: %w", err))
	}

	if prev, ok := m.store.Get(); ok && prev.SubjectID != sess.SubjectID {
		slogctx.Info(ctx, "Identity changed on login", "previous_subject_id", prev.SubjectID, "subject_id", sess.SubjectID)
	}

	if _, err := m.store.set(ctx, sess, ReasonLogin); err != nil {
		slogctx.Warn(ctx, "New session is live but not persisted", "error", err)
	}

	slogctx.Info(ctx, "Session created", "subject_id", sess.SubjectID, "expires_at", sess.ExpiresAt)

	return sess, nil
}

// Get returns the current session.
func (m *Manager) Get() (Session, bool) {
	return m.store.Get()
}

// Subscribe registers fn for every session change.
func (m *Manager) Subscribe(fn func(Change)) (unsubscribe func()) {
	return m.store.Subscribe(fn)
}

// OnInvalidated registers fn for logout and terminal refresh failures.
func (m *Manager) OnInvalidated(fn func(context.Context, Invalidation)) (cancel func()) {
	return m.observer.OnInvalidated(fn)
}

// RefreshNow renews the session through the single-flight coordinator.
func (m *Manager) RefreshNow(ctx context.Context) (Session, error) {
	return m.coordinator.RefreshNow(ctx)
}

// Logout clears the session, stops the monitor and notifies observers. A
// refresh still in flight completes, but its result is discarded.
func (m *Manager) Logout(ctx context.Context) error {
	prev, _ := m.store.Get()

	cleared, err := m.store.clear(ctx, ReasonLogout)
	if !cleared {
		return err
	}

	m.metrics.add(ctx, m.metrics.invalidations, "reason", string(InvalidationLogout))
	slogctx.Info(ctx, "Logged out", "subject_id", prev.SubjectID)

	m.observer.notify(ctx, Invalidation{
		Reason:    InvalidationLogout,
		SubjectID: prev.SubjectID,
		At:        m.now(),
	})

	return err
}

// Close stops background work. The stored session is left untouched.
func (m *Manager) Close() {
	m.unsubscribe()
	m.monitor.Stop()
}

// MonitorRunning reports whether the expiry monitor is active.
func (m *Manager) MonitorRunning() bool {
	return m.monitor.Running()
}

// followLifecycle runs the monitor exactly while a session exists. Changes
// from concurrent writers can arrive out of order, so the decision is taken
// from the store's current state rather than from the change itself.
func (m *Manager) followLifecycle(Change) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if _, present := m.store.Get(); present {
		m.monitor.Start(m.baseCtx)
		return
	}

	m.monitor.Stop()
}
