// Package authclient provides the HTTP client through which application API
// calls are made. It attaches the current access token and recovers from a
// single 401 by refreshing the session.
package authclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-keeper/pkg/session"
)

// MaxReplayableBody is the largest request body without GetBody that is
// buffered so it can be re-sent after a 401. Larger bodies are streamed and a
// 401 for them is returned as is.
const MaxReplayableBody = 1 << 20

// Sessions is the part of session.Manager the transport depends on.
type Sessions interface {
	Get() (session.Session, bool)
	RefreshNow(ctx context.Context) (session.Session, error)
}

// Transport is an http.RoundTripper that authenticates requests with the
// current session. A 401 response is retried at most once.
type Transport struct {
	Sessions Sessions
	Base     http.RoundTripper
}

var _ http.RoundTripper = (*Transport)(nil)

// NewClient returns an *http.Client that authenticates every request. A nil
// base uses http.DefaultTransport.
func NewClient(sessions Sessions, base http.RoundTripper) *http.Client {
	return &http.Client{
		Transport: &Transport{Sessions: sessions, Base: base},
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	replayable, err := withReplayableBody(req)
	if err != nil {
		return nil, err
	}

	sent := ""
	if s, ok := t.Sessions.Get(); ok {
		sent = s.AccessToken
	}

	resp, err := t.base().RoundTrip(authorize(replayable, sent))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	if !replayableBody(replayable) {
		slogctx.Info(ctx, "Request body too large to replay, returning the 401", "limit", MaxReplayableBody)
		return resp, nil
	}

	retryToken, ok := t.retryToken(ctx, sent)
	if !ok {
		return resp, nil
	}

	retry, err := rewind(replayable)
	if err != nil {
		slogctx.Warn(ctx, "Cannot replay request body, returning the 401", "error", err)
		return resp, nil
	}

	drain(resp)

	return t.base().RoundTrip(authorize(retry, retryToken))
}

// retryToken picks the token for the single retry. If another caller already
// replaced the token that was rejected, that token is used directly; otherwise
// the session is refreshed through the coordinator.
func (t *Transport) retryToken(ctx context.Context, sent string) (string, bool) {
	if current, ok := t.Sessions.Get(); ok && current.AccessToken != sent {
		return current.AccessToken, true
	}

	if sent == "" {
		return "", false
	}

	refreshed, err := t.Sessions.RefreshNow(ctx)
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			slogctx.Info(ctx, "Refresh after 401 failed", "error", err)
		}
		return "", false
	}

	return refreshed.AccessToken, true
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}

	return http.DefaultTransport
}

func authorize(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}

	return out
}

// withReplayableBody makes sure the request body can be read a second time,
// buffering up to MaxReplayableBody when the caller did not provide GetBody.
func withReplayableBody(req *http.Request) (*http.Request, error) {
	if !hasBody(req) || req.GetBody != nil {
		return req, nil
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, MaxReplayableBody+1))
	if err != nil {
		req.Body.Close()
		return nil, fmt.Errorf("buffering request body: %w", err)
	}

	out := req.Clone(req.Context())

	if len(data) > MaxReplayableBody {
		out.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(data), req.Body), req.Body}
		out.GetBody = nil

		return out, nil
	}

	req.Body.Close()
	out.Body = io.NopCloser(bytes.NewReader(data))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}

	return out, nil
}

func hasBody(req *http.Request) bool {
	return req.Body != nil && req.Body != http.NoBody
}

func replayableBody(req *http.Request) bool {
	return !hasBody(req) || req.GetBody != nil
}

func rewind(req *http.Request) (*http.Request, error) {
	if !hasBody(req) {
		return req, nil
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("getting request body: %w", err)
	}

	out := req.Clone(req.Context())
	out.Body = body

	return out, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
}
