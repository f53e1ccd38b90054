package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	slogctx "github.com/veqryn/slog-context"
)

// Refresher is the part of the coordinator the monitor needs.
type Refresher interface {
	RefreshNow(ctx context.Context) (Session, error)
}

// Monitor periodically checks the stored session and starts a refresh when
// the access token is within the threshold of its expiry, or already past it.
// The expiry is brought forward by the configured skew.
type Monitor struct {
	store     *Store
	refresher Refresher
	metrics   *metrics
	interval  time.Duration
	threshold time.Duration
	skew      time.Duration
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	refreshing atomic.Bool
	refreshes  sync.WaitGroup
}

func NewMonitor(store *Store, refresher Refresher, cfg Config) *Monitor {
	cfg = cfg.withDefaults()

	return &Monitor{
		store:     store,
		refresher: refresher,
		metrics:   newMetrics(),
		interval:  cfg.MonitorInterval,
		threshold: cfg.ExpiryThreshold,
		skew:      cfg.ExpirySkew,
		now:       time.Now,
	}
}

// Start launches the tick loop. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go m.loop(loopCtx, done)
	slogctx.Debug(ctx, "Expiry monitor started", "interval", m.interval, "threshold", m.threshold)
}

// Stop cancels the tick loop and waits for it to exit. Refreshes already
// started by the monitor are not cancelled.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

// Running reports whether the tick loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cancel != nil
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// tick makes one refresh decision. It reports whether a refresh was started.
func (m *Monitor) tick(ctx context.Context) bool {
	sess, ok := m.store.Get()
	if !ok {
		m.metrics.add(ctx, m.metrics.monitorTicks, "decision", "no_session")
		return false
	}

	// the local clock may run up to skew behind the issuer's
	until := sess.ExpiresIn(m.now()) - m.skew
	if until > m.threshold {
		m.metrics.add(ctx, m.metrics.monitorTicks, "decision", "fresh")
		return false
	}

	if !m.refreshing.CompareAndSwap(false, true) {
		m.metrics.add(ctx, m.metrics.monitorTicks, "decision", "busy")
		return false
	}

	m.metrics.add(ctx, m.metrics.monitorTicks, "decision", "refresh")
	slogctx.Info(ctx, "Access token close to expiry, refreshing", "expires_in", until)

	m.refreshes.Go(func() {
		defer m.refreshing.Store(false)

		if _, err := m.refresher.RefreshNow(ctx); err != nil {
			slogctx.Warn(ctx, "Proactive refresh failed", "error", err)
		}
	})

	return true
}

// wait blocks until refreshes started by the monitor have finished.
func (m *Monitor) wait() {
	m.refreshes.Wait()
}
