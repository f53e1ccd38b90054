// Package identity implements session.IdentityBridge against an OAuth 2.0
// token endpoint discovered through OpenID Connect discovery.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/zitadel/oidc/v3/pkg/client"
	"github.com/zitadel/oidc/v3/pkg/oidc"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-keeper/pkg/session"
)

const (
	DefaultDiscoveryTTL = time.Hour

	idTokenType      = "urn:ietf:params:oauth:token-type:id_token"
	refreshTokenType = "urn:ietf:params:oauth:token-type:refresh_token"

	maxErrorBody = 16 << 10
)

// ErrEmptyTokenResponse is returned when the token endpoint answers 200
// without an access token.
var ErrEmptyTokenResponse = errors.New("token response carries no access token")

type Bridge struct {
	issuer     string
	clientID   string
	audience   string
	scopes     []string
	httpClient *http.Client

	discovery    *cache.Cache
	discoveryTTL time.Duration
}

var _ session.IdentityBridge = (*Bridge)(nil)

type Option func(*Bridge)

// WithAudience sets the audience requested on token exchange.
func WithAudience(audience string) Option {
	return func(b *Bridge) {
		b.audience = audience
	}
}

func WithScopes(scopes ...string) Option {
	return func(b *Bridge) {
		b.scopes = scopes
	}
}

// WithDiscoveryTTL bounds how long a discovery document is reused.
func WithDiscoveryTTL(ttl time.Duration) Option {
	return func(b *Bridge) {
		if ttl > 0 {
			b.discoveryTTL = ttl
		}
	}
}

// NewBridge returns a bridge for issuer. httpClient carries client
// authentication; a nil client uses http.DefaultClient.
func NewBridge(issuer, clientID string, httpClient *http.Client, opts ...Option) *Bridge {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	b := &Bridge{
		issuer:       issuer,
		clientID:     clientID,
		httpClient:   httpClient,
		discoveryTTL: DefaultDiscoveryTTL,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.discovery = cache.New(b.discoveryTTL, 2*b.discoveryTTL)

	return b
}

// Exchange trades an identity provider ID token for an application pair
// using the token exchange grant.
func (b *Bridge) Exchange(ctx context.Context, credential string) (session.TokenPair, error) {
	const op = "exchange"

	if credential == "" {
		return session.TokenPair{}, session.NewTerminalError(op, errors.New("credential is empty"))
	}

	form := url.Values{}
	form.Set("grant_type", string(oidc.GrantTypeTokenExchange))
	form.Set("subject_token", credential)
	form.Set("subject_token_type", idTokenType)
	form.Set("requested_token_type", refreshTokenType)
	if b.audience != "" {
		form.Set("audience", b.audience)
	}

	resp, err := b.token(ctx, op, form)
	if err != nil {
		return session.TokenPair{}, err
	}

	if resp.RefreshToken == "" {
		return session.TokenPair{}, session.NewTerminalError(op, errors.New("token response carries no refresh token"))
	}

	return session.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

// Refresh renews the pair. Providers that do not rotate refresh tokens may
// omit one, in which case the presented token stays in use.
func (b *Bridge) Refresh(ctx context.Context, refreshToken string) (session.TokenPair, error) {
	const op = "refresh"

	form := url.Values{}
	form.Set("grant_type", string(oidc.GrantTypeRefreshToken))
	form.Set("refresh_token", refreshToken)

	resp, err := b.token(ctx, op, form)
	if err != nil {
		return session.TokenPair{}, err
	}

	next := resp.RefreshToken
	if next == "" {
		next = refreshToken
	}

	return session.TokenPair{AccessToken: resp.AccessToken, RefreshToken: next}, nil
}

func (b *Bridge) token(ctx context.Context, op string, form url.Values) (*oidc.AccessTokenResponse, error) {
	conf, err := b.discover(ctx)
	if err != nil {
		if errors.Is(err, oidc.ErrIssuerInvalid) {
			return nil, session.NewTerminalError(op, err)
		}
		return nil, session.NewRetryableError(op, err)
	}

	form.Set("client_id", b.clientID)
	if len(b.scopes) > 0 {
		form.Set("scope", strings.Join(b.scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, session.NewTerminalError(op, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, session.NewRetryableError(op, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(ctx, op, resp)
	}

	var tokens oidc.AccessTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, session.NewRetryableError(op, fmt.Errorf("decoding response: %w", err))
	}

	if tokens.AccessToken == "" {
		return nil, session.NewRetryableError(op, ErrEmptyTokenResponse)
	}

	return &tokens, nil
}

func (b *Bridge) discover(ctx context.Context) (*oidc.DiscoveryConfiguration, error) {
	if cached, ok := b.discovery.Get(b.issuer); ok {
		//nolint:forcetypeassert
		return cached.(*oidc.DiscoveryConfiguration), nil
	}

	conf, err := client.Discover(ctx, b.issuer, b.httpClient)
	if err != nil {
		return nil, fmt.Errorf("discovering %s: %w", b.issuer, err)
	}

	if conf.TokenEndpoint == "" {
		return nil, fmt.Errorf("discovering %s: no token endpoint advertised", b.issuer)
	}

	b.discovery.Set(b.issuer, conf, cache.DefaultExpiration)
	slogctx.Debug(ctx, "Discovered identity provider", "issuer", b.issuer, "token_endpoint", conf.TokenEndpoint)

	return conf, nil
}

// classifyResponse maps a non-200 token endpoint answer onto the retry
// taxonomy: 408, 429 and 5xx may succeed later, any other status means the
// credential was refused.
func classifyResponse(ctx context.Context, op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	cause := fmt.Errorf("token endpoint returned status %d", resp.StatusCode)

	var oauthErr oidc.Error
	if json.Unmarshal(body, &oauthErr) == nil && oauthErr.ErrorType != "" {
		cause = fmt.Errorf("token endpoint returned status %d: %s: %s", resp.StatusCode, oauthErr.ErrorType, oauthErr.Description)
	}

	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		slogctx.Warn(ctx, "Identity provider temporarily unavailable", "op", op, "status", resp.StatusCode)
		return session.NewRetryableError(op, cause)
	default:
		slogctx.Info(ctx, "Identity provider refused the credential", "op", op, "status", resp.StatusCode, "error", oauthErr.ErrorType)
		return session.NewTerminalError(op, cause)
	}
}
