// Package tokentest mints signed JWTs for tests.
package tokentest

import (
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

var signingKey = []byte("session-keeper-test-signing-key-0123456789")

// Mint returns an HS256 token for subject expiring at expiry.
func Mint(t testing.TB, subject string, expiry time.Time) string {
	t.Helper()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err, "creating signer")

	token, err := jwt.Signed(signer).Claims(jwt.Claims{
		Subject:  subject,
		Issuer:   "https://idp.example.com",
		Audience: jwt.Audience{"session-keeper"},
		Expiry:   jwt.NewNumericDate(expiry),
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}).Serialize()
	require.NoError(t, err, "serialising token")

	return token
}

// MintWithoutExpiry returns a well formed token that carries no exp claim.
func MintWithoutExpiry(t testing.TB, subject string) string {
	t.Helper()

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: signingKey}, nil)
	require.NoError(t, err, "creating signer")

	token, err := jwt.Signed(signer).Claims(jwt.Claims{Subject: subject}).Serialize()
	require.NoError(t, err, "serialising token")

	return token
}
