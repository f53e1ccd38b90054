package sessionmock

import (
	"context"
	"sync"

	"github.com/openkcm/session-keeper/internal/serviceerr"
	"github.com/openkcm/session-keeper/pkg/session"
)

// Persister keeps a single session in memory. Errors passed to the
// constructor are returned from the matching method.
type Persister struct {
	mu      sync.Mutex
	session *session.Session
	saves   int
	deletes int

	loadErr, saveErr, deleteErr error
}

func NewInMemPersister(loadErr, saveErr, deleteErr error) *Persister {
	return &Persister{
		loadErr:   loadErr,
		saveErr:   saveErr,
		deleteErr: deleteErr,
	}
}

// Put seeds the persister as if another process had written s.
func (p *Persister) Put(s session.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.session = &s
}

// Stored returns what was last saved.
func (p *Persister) Stored() (session.Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return session.Session{}, false
	}

	return *p.session, true
}

func (p *Persister) Saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.saves
}

func (p *Persister) Deletes() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.deletes
}

func (p *Persister) Load(_ context.Context) (session.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loadErr != nil {
		return session.Session{}, p.loadErr
	}

	if p.session == nil {
		return session.Session{}, serviceerr.ErrNotFound
	}

	return *p.session, nil
}

func (p *Persister) Save(_ context.Context, s session.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.saves++
	if p.saveErr != nil {
		return p.saveErr
	}

	p.session = &s

	return nil
}

func (p *Persister) Delete(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.deletes++
	if p.deleteErr != nil {
		return p.deleteErr
	}

	p.session = nil

	return nil
}
