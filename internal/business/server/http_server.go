package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-keeper/internal/audit"
	"github.com/openkcm/session-keeper/internal/config"
	"github.com/openkcm/session-keeper/internal/serviceerr"
	"github.com/openkcm/session-keeper/pkg/session"
)

// createHTTPServer creates the keeper http server using the given config
func createHTTPServer(_ context.Context, cfg *config.Config, manager *session.Manager, auditor *audit.Auditor) (*http.Server, error) {
	in, err := newInstrumentation(cfg)
	if err != nil {
		return nil, err
	}

	upstream, err := upstreamHandler(cfg, manager)
	if err != nil {
		return nil, err
	}

	sessions := newSessionHandler(manager, auditor)

	mux := http.NewServeMux()
	mux.Handle("GET /ping", in.wrap("ping", http.HandlerFunc(pingHandler)))
	mux.Handle("GET /session", in.wrap("getSession", http.HandlerFunc(sessions.get)))
	mux.Handle("POST /session/login", in.wrap("login", http.HandlerFunc(sessions.login)))
	mux.Handle("POST /session/refresh", in.wrap("refresh", http.HandlerFunc(sessions.refresh)))
	mux.Handle("POST /session/logout", in.wrap("logout", http.HandlerFunc(sessions.logout)))
	mux.Handle("/api/", in.wrap("upstream", http.StripPrefix("/api", upstream)))

	return &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: mux,
	}, nil
}

func upstreamHandler(cfg *config.Config, manager *session.Manager) (http.Handler, error) {
	if cfg.Upstream.URL == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "upstream_not_configured", serviceerr.ErrUpstreamNotConfigured.Error())
		}), nil
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = cfg.Upstream.Timeout

	return newUpstreamProxy(cfg.Upstream.URL, manager, base)
}

// StartHTTPServer starts the HTTP server using the given config.
func StartHTTPServer(ctx context.Context, cfg *config.Config, manager *session.Manager, auditor *audit.Auditor) error {
	server, err := createHTTPServer(ctx, cfg, manager, auditor)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create the HTTP server")
	}

	network, address := splitNetworkAddress(server.Addr)
	slogctx.Info(ctx, "Starting a listener", "network", network, "address", address)

	listener, err := new(net.ListenConfig).Listen(ctx, network, address)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	go func() {
		slogctx.Info(ctx, "Serving the session API", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}

// splitNetworkAddress accepts "network://address" (unix sockets keep the
// session API local to the host) and defaults to tcp.
func splitNetworkAddress(addr string) (network, address string) {
	if network, address, ok := strings.Cut(addr, "://"); ok && network != "" {
		return network, address
	}

	return "tcp", addr
}
