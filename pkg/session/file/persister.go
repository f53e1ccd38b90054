// Package sessionfile persists the keeper session as a JSON file readable
// only by its owner, so that the CLI and the daemon can share it.
package sessionfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/openkcm/session-keeper/internal/serviceerr"
	"github.com/openkcm/session-keeper/pkg/session"
)

const (
	dirPerm  fs.FileMode = 0o700
	filePerm fs.FileMode = 0o600
)

type Persister struct {
	path string
}

var _ session.Persister = (*Persister)(nil)

// NewPersister returns a persister for path, creating its directory if needed.
func NewPersister(path string) (*Persister, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: session file path is empty", serviceerr.ErrInvalidConfig)
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	return &Persister{path: path}, nil
}

// Path returns the session file location.
func (p *Persister) Path() string {
	return p.path
}

func (p *Persister) Load(_ context.Context) (session.Session, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return session.Session{}, serviceerr.ErrNotFound
		}

		return session.Session{}, fmt.Errorf("reading session file: %w", err)
	}

	var s session.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return session.Session{}, fmt.Errorf("unmarshaling json: %w", err)
	}

	return s, nil
}

// Save replaces the file atomically: readers see the old pair or the new
// one, never a mix.
func (p *Persister) Save(_ context.Context, s session.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling json: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), "."+filepath.Base(p.path)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("restricting session file permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing session file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing session file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing session file: %w", err)
	}

	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}

	return nil
}

func (p *Persister) Delete(_ context.Context) error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}

	return nil
}
