package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-keeper/internal/serviceerr"
)

// ChangeReason says why the stored session changed.
type ChangeReason string

const (
	ReasonLogin       ChangeReason = "login"
	ReasonRefresh     ChangeReason = "refresh"
	ReasonLogout      ChangeReason = "logout"
	ReasonInvalidated ChangeReason = "invalidated"
	ReasonRestored    ChangeReason = "restored"
	ReasonReloaded    ChangeReason = "reloaded"
)

// Change is delivered to store subscribers after every write.
type Change struct {
	Session Session
	Present bool
	Epoch   uint64
	Reason  ChangeReason
}

type snapshot struct {
	session Session
	present bool
	epoch   uint64
}

type writeOp struct {
	session     Session
	present     bool
	reason      ChangeReason
	expectEpoch *uint64
	persist     bool
}

// Store holds the current session. Reads never block; writes are serialised,
// persisted before they become visible, and each one advances the epoch.
type Store struct {
	persister Persister

	current atomic.Pointer[snapshot]
	writeMu sync.Mutex

	subsMu  sync.Mutex
	subs    map[uint64]func(Change)
	nextSub uint64
}

// NewStore returns an empty store. A nil persister keeps the session in memory only.
func NewStore(persister Persister) *Store {
	s := &Store{
		persister: persister,
		subs:      make(map[uint64]func(Change)),
	}
	s.current.Store(&snapshot{})

	return s
}

// Get returns the current session, if any.
func (s *Store) Get() (Session, bool) {
	snap := s.current.Load()
	return snap.session, snap.present
}

// Epoch returns the generation of the current state.
func (s *Store) Epoch() uint64 {
	return s.current.Load().epoch
}

func (s *Store) snapshot() snapshot {
	return *s.current.Load()
}

// Set replaces the stored session as a whole.
func (s *Store) Set(ctx context.Context, sess Session) error {
	_, err := s.set(ctx, sess, ReasonLogin)
	return err
}

// Clear drops the stored session.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.clear(ctx, ReasonLogout)
	return err
}

func (s *Store) set(ctx context.Context, sess Session, reason ChangeReason) (bool, error) {
	if !sess.Complete() {
		return false, ErrInvalidTokenPair
	}

	return s.write(ctx, writeOp{session: sess, present: true, reason: reason, persist: true})
}

func (s *Store) clear(ctx context.Context, reason ChangeReason) (bool, error) {
	return s.write(ctx, writeOp{reason: reason, persist: true})
}

// setIfEpoch stores sess only if nothing was written since epoch.
func (s *Store) setIfEpoch(ctx context.Context, sess Session, epoch uint64) (bool, error) {
	if !sess.Complete() {
		return false, ErrInvalidTokenPair
	}

	return s.write(ctx, writeOp{session: sess, present: true, reason: ReasonRefresh, expectEpoch: &epoch, persist: true})
}

// clearIfEpoch clears the store only if nothing was written since epoch. It
// reports whether this call moved the store into the cleared state.
func (s *Store) clearIfEpoch(ctx context.Context, epoch uint64, reason ChangeReason) (bool, error) {
	return s.write(ctx, writeOp{reason: reason, expectEpoch: &epoch, persist: true})
}

// Load initialises the store from the persister.
func (s *Store) Load(ctx context.Context) error {
	_, err := s.loadFromPersister(ctx, ReasonRestored)
	return err
}

// Reload re-reads the persister, picking up writes made by another process.
// It reports whether the in-memory state changed.
func (s *Store) Reload(ctx context.Context) (bool, error) {
	return s.loadFromPersister(ctx, ReasonReloaded)
}

// loadFromPersister applies the persisted state only if no other write
// happened while the persister was read, so a pair that was just refreshed,
// logged in or cleared is never replaced by an older read.
func (s *Store) loadFromPersister(ctx context.Context, reason ChangeReason) (bool, error) {
	if s.persister == nil {
		return false, nil
	}

	epoch := s.Epoch()

	persisted, err := s.persister.Load(ctx)
	switch {
	case errors.Is(err, serviceerr.ErrNotFound):
		return s.write(ctx, writeOp{reason: reason, expectEpoch: &epoch})
	case err != nil:
		return false, fmt.Errorf("loading persisted session: %w", err)
	}

	if !persisted.Complete() {
		slogctx.Warn(ctx, "Ignoring incomplete persisted session", "subject_id", persisted.SubjectID)
		return s.write(ctx, writeOp{reason: reason, expectEpoch: &epoch})
	}

	current, present := s.Get()
	if present && current.AccessToken == persisted.AccessToken && current.RefreshToken == persisted.RefreshToken {
		return false, nil
	}

	changed, err := s.write(ctx, writeOp{session: persisted, present: true, reason: reason, expectEpoch: &epoch})
	if !changed && err == nil && s.Epoch() != epoch {
		slogctx.Debug(ctx, "Discarded persisted session read overtaken by a local write", "reason", reason)
	}

	return changed, err
}

func (s *Store) write(ctx context.Context, op writeOp) (bool, error) {
	s.writeMu.Lock()

	cur := s.current.Load()
	if op.expectEpoch != nil && cur.epoch != *op.expectEpoch {
		s.writeMu.Unlock()
		return false, nil
	}

	if !op.present && !cur.present {
		s.writeMu.Unlock()
		return false, nil
	}

	var persistErr error
	if op.persist && s.persister != nil {
		if op.present {
			persistErr = s.persister.Save(ctx, op.session)
		} else {
			persistErr = s.persister.Delete(ctx)
		}
	}

	next := &snapshot{session: op.session, present: op.present, epoch: cur.epoch + 1}
	s.current.Store(next)
	s.writeMu.Unlock()

	if persistErr != nil {
		slogctx.Error(ctx, "Failed to persist session change", "reason", op.reason, "error", persistErr)
		persistErr = fmt.Errorf("persisting session: %w", persistErr)
	}

	s.publish(ctx, Change{
		Session: next.session,
		Present: next.present,
		Epoch:   next.epoch,
		Reason:  op.reason,
	})

	return true, persistErr
}

// Subscribe registers fn for every change. fn runs on the writer's goroutine
// and must return quickly. Changes from concurrent writers may be delivered
// out of epoch order; subscribers that track state should compare
// Change.Epoch with Epoch or re-read Get.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) publish(ctx context.Context, change Change) {
	s.subsMu.Lock()
	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slogctx.Error(ctx, "Session change subscriber panicked", "panic", r)
				}
			}()
			fn(change)
		}()
	}
}
