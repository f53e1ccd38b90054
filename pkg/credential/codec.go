// Package credential decodes the claims embedded in an access token without
// verifying its signature and without any network access. Verification is the
// job of the resource APIs that accept the token; the session keeper only needs
// the expiry and the subject to schedule refreshes and detect identity changes.
package credential

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// signatureAlgorithms lists every JWS algorithm the parser accepts. The
// signature is never checked here, the list only has to be broad enough to
// parse what identity providers issue.
var signatureAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.EdDSA,
}

var (
	ErrMalformed     = errors.New("malformed token")
	ErrMissingExpiry = errors.New("token has no expiry claim")
)

// DecodeError is returned by Decode for any token it cannot interpret.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "decoding token: " + e.Reason
	}

	return fmt.Sprintf("decoding token: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Claims is the subset of registered JWT claims the keeper relies on.
type Claims struct {
	Subject  string
	Issuer   string
	Audience []string
	Expiry   time.Time
	IssuedAt time.Time
}

// Decode parses a compact JWS and returns its claims. It never panics on
// malformed input; every failure is a *DecodeError.
func Decode(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, &DecodeError{Reason: "empty token", Err: ErrMalformed}
	}

	if strings.Count(token, ".") != 2 {
		return Claims{}, &DecodeError{Reason: "expected three segments", Err: ErrMalformed}
	}

	parsed, err := jwt.ParseSigned(token, signatureAlgorithms)
	if err != nil {
		return Claims{}, &DecodeError{Reason: "parsing jws", Err: errors.Join(ErrMalformed, err)}
	}

	var registered jwt.Claims
	if err := parsed.UnsafeClaimsWithoutVerification(&registered); err != nil {
		return Claims{}, &DecodeError{Reason: "reading claims", Err: errors.Join(ErrMalformed, err)}
	}

	if registered.Expiry == nil {
		return Claims{}, &DecodeError{Reason: "exp", Err: ErrMissingExpiry}
	}

	claims := Claims{
		Subject:  registered.Subject,
		Issuer:   registered.Issuer,
		Audience: []string(registered.Audience),
		Expiry:   registered.Expiry.Time(),
	}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.Time()
	}

	return claims, nil
}

// IsExpired reports whether the token is expired at now+skew. A token that
// cannot be decoded is always expired.
func IsExpired(token string, skew time.Duration) bool {
	return isExpiredAt(token, skew, time.Now())
}

func isExpiredAt(token string, skew time.Duration, now time.Time) bool {
	claims, err := Decode(token)
	if err != nil {
		return true
	}

	return !now.Add(skew).Before(claims.Expiry)
}

// ExpiresWithin reports whether the claims expire within d of now. Already
// expired claims are within any window.
func ExpiresWithin(claims Claims, d time.Duration, now time.Time) bool {
	return claims.Expiry.Sub(now) <= d
}
