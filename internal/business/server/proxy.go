package server

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-keeper/internal/serviceerr"
	"github.com/openkcm/session-keeper/pkg/authclient"
)

// newUpstreamProxy forwards requests to the application API with the
// session's access token. Any Authorization header of the caller is dropped.
func newUpstreamProxy(rawURL string, sessions authclient.Sessions, base http.RoundTripper) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: upstream.url: %w", serviceerr.ErrInvalidConfig, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("%w: upstream.url %q is not absolute", serviceerr.ErrInvalidConfig, rawURL)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del("Authorization")
		},
		Transport: &authclient.Transport{Sessions: sessions, Base: base},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			ctx := r.Context()
			slogctx.Warn(ctx, "Upstream request failed", "error", err)

			if ctx.Err() != nil {
				return
			}
			writeError(ctx, w, http.StatusBadGateway, "upstream_unavailable", "the application API could not be reached")
		},
	}, nil
}
