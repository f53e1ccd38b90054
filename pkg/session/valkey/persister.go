// Package sessionvalkey persists the keeper session in ValKey under
// "<prefix>:session:<keeperID>" as a JSON document.
package sessionvalkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/session-keeper/internal/serviceerr"
	"github.com/openkcm/session-keeper/pkg/session"
)

type Persister struct {
	client valkey.Client
	key    string
}

var _ session.Persister = (*Persister)(nil)

func NewPersister(client valkey.Client, prefix, keeperID string) *Persister {
	return &Persister{
		client: client,
		key:    strings.TrimSuffix(prefix, ":") + ":session:" + keeperID,
	}
}

// Load returns serviceerr.ErrNotFound when no session is stored.
func (p *Persister) Load(ctx context.Context) (session.Session, error) {
	raw, err := p.client.Do(ctx, p.client.B().Get().Key(p.key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return session.Session{}, errors.Join(err, serviceerr.ErrNotFound)
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("getting session from valkey: %w", err)
	}

	var s session.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return session.Session{}, fmt.Errorf("decoding stored session: %w", err)
	}

	return s, nil
}

func (p *Persister) Save(ctx context.Context, s session.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	cmd := p.client.B().Set().Key(p.key).Value(valkey.BinaryString(raw)).Build()
	if err := p.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("setting session in valkey: %w", err)
	}

	return nil
}

// Delete is a no-op when nothing is stored.
func (p *Persister) Delete(ctx context.Context) error {
	if err := p.client.Do(ctx, p.client.B().Del().Key(p.key).Build()).Error(); err != nil {
		return fmt.Errorf("deleting session from valkey: %w", err)
	}

	return nil
}
