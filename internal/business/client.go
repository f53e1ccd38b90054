package business

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	"github.com/openkcm/session-keeper/internal/config"
	"github.com/openkcm/session-keeper/internal/serviceerr"
)

// loadHTTPClient returns the client used to reach the identity provider's
// token and discovery endpoints, authenticated as configured in
// identity.clientAuth.
func loadHTTPClient(cfg *config.Config) (*http.Client, error) {
	clientAuth := cfg.Identity.ClientAuth
	base := http.DefaultTransport.(*http.Transport).Clone()

	var rt http.RoundTripper

	switch clientAuth.Type {
	case config.ClientAuthMTLS:
		tlsConfig, err := commoncfg.LoadMTLSConfig(clientAuth.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading mTLS config: %w", err)
		}
		base.TLSClientConfig = tlsConfig
		rt = base
	case config.ClientAuthSecret:
		secret, err := commoncfg.LoadValueFromSourceRef(clientAuth.ClientSecret)
		if err != nil {
			return nil, fmt.Errorf("loading client secret: %w", err)
		}
		rt = &clientAuthRoundTripper{
			clientID:     clientAuth.ClientID,
			clientSecret: string(secret),
			next:         base,
		}
	case config.ClientAuthInsecure:
		rt = base
	default:
		return nil, fmt.Errorf("%w: unknown client auth type %q", serviceerr.ErrInvalidConfig, clientAuth.Type)
	}

	return &http.Client{Transport: rt}, nil
}

// clientAuthRoundTripper authenticates with client_secret_basic.
type clientAuthRoundTripper struct {
	clientID     string
	clientSecret string
	next         http.RoundTripper
}

func (t *clientAuthRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(url.QueryEscape(t.clientID), url.QueryEscape(t.clientSecret))

	return t.next.RoundTrip(req)
}
