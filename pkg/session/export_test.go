package session

import (
	"context"
	"time"
)

func (m *Manager) Tick(ctx context.Context) bool {
	return m.monitor.tick(ctx)
}

// WaitIdle waits for monitor refreshes and observer callbacks started so far.
func (m *Manager) WaitIdle() {
	m.monitor.wait()
	m.observer.wait()
}

func (m *Monitor) Tick(ctx context.Context) bool {
	return m.tick(ctx)
}

func (m *Monitor) SetNow(now func() time.Time) {
	m.now = now
}

func (m *Monitor) Wait() {
	m.wait()
}

func (o *Observer) Notify(ctx context.Context, inv Invalidation) {
	o.notify(ctx, inv)
}

func (o *Observer) Wait() {
	o.wait()
}

func (s *Store) SetIfEpoch(ctx context.Context, sess Session, epoch uint64) (bool, error) {
	return s.setIfEpoch(ctx, sess, epoch)
}

func (s *Store) ClearIfEpoch(ctx context.Context, epoch uint64) (bool, error) {
	return s.clearIfEpoch(ctx, epoch, ReasonInvalidated)
}

func (c *Coordinator) SetNow(now func() time.Time) {
	c.now = now
}

func Classify(op string, err error) *AuthError {
	return classify(op, err)
}
