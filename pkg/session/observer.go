package session

import (
	"context"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"
)

// InvalidationReason says why the session ended.
type InvalidationReason string

const (
	InvalidationRefreshRejected InvalidationReason = "refresh_rejected"
	InvalidationLogout          InvalidationReason = "logout"
)

// Invalidation describes the end of a session.
type Invalidation struct {
	Reason    InvalidationReason
	SubjectID string
	Err       error
	At        time.Time
}

// Observer fans session invalidations out to subscribers.
type Observer struct {
	mu        sync.Mutex
	callbacks map[uint64]func(context.Context, Invalidation)
	nextID    uint64
	pending   sync.WaitGroup
}

func NewObserver() *Observer {
	return &Observer{
		callbacks: make(map[uint64]func(context.Context, Invalidation)),
	}
}

// OnInvalidated registers fn. It returns a function removing the registration.
func (o *Observer) OnInvalidated(fn func(context.Context, Invalidation)) (cancel func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.callbacks[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.callbacks, id)
		o.mu.Unlock()
	}
}

// notify runs every callback on its own goroutine and returns immediately.
// A panicking or slow callback affects nobody else.
func (o *Observer) notify(ctx context.Context, inv Invalidation) {
	o.mu.Lock()
	callbacks := make([]func(context.Context, Invalidation), 0, len(o.callbacks))
	for _, fn := range o.callbacks {
		callbacks = append(callbacks, fn)
	}
	o.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	for _, fn := range callbacks {
		o.pending.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					slogctx.Error(ctx, "Session invalidation callback panicked", "panic", r)
				}
			}()
			fn(ctx, inv)
		})
	}
}

// wait blocks until all callbacks started so far have returned.
func (o *Observer) wait() {
	o.pending.Wait()
}
