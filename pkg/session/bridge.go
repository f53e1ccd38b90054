package session

import "context"

// IdentityBridge exchanges identity provider credentials for application
// token pairs. Implementations return *AuthError so the coordinator can tell
// a transient failure from a rejected credential.
type IdentityBridge interface {
	// Exchange trades an identity provider credential for a new pair.
	Exchange(ctx context.Context, credential string) (TokenPair, error)
	// Refresh trades a refresh token for a renewed pair.
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
}

// Persister is the durable medium behind the Store. Load returns an error
// matching serviceerr.ErrNotFound when nothing is persisted.
type Persister interface {
	Load(ctx context.Context) (Session, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context) error
}
