package session

import (
	"fmt"
	"time"

	"github.com/openkcm/session-keeper/pkg/credential"
)

// Session is the live authentication state: an access/refresh token pair and
// the values derived from the access token.
type Session struct {
	AccessToken  string    `json:"accessToken"`  // Bearer credential for API calls
	RefreshToken string    `json:"refreshToken"` // Credential used only to mint a new pair
	ExpiresAt    time.Time `json:"expiresAt"`    // Expiry decoded from the access token
	SubjectID    string    `json:"subjectId"`    // Identity provider subject of the access token
	IssuedAt     time.Time `json:"issuedAt"`     // When the pair was stored locally
}

// TokenPair is what the identity bridge hands out.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Refreshable reports whether the session carries a refresh token.
func (s Session) Refreshable() bool {
	return s.RefreshToken != ""
}

// Complete reports whether both halves of the pair are present.
func (s Session) Complete() bool {
	return s.AccessToken != "" && s.RefreshToken != ""
}

// ExpiresIn returns the time left until the access token expires.
func (s Session) ExpiresIn(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

// NewSession builds a session from a token pair, decoding the access token to
// derive the expiry and subject.
func NewSession(pair TokenPair, now time.Time) (Session, error) {
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return Session{}, fmt.Errorf("%w: token pair is incomplete", ErrInvalidTokenPair)
	}

	claims, err := credential.Decode(pair.AccessToken)
	if err != nil {
		return Session{}, err
	}

	return Session{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    claims.Expiry,
		SubjectID:    claims.Subject,
		IssuedAt:     now,
	}, nil
}
