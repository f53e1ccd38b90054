package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-keeper/pkg/session"
)

func newTestAPI(t *testing.T, manager *session.Manager) http.Handler {
	t.Helper()

	srv, err := createHTTPServer(t.Context(), testConfig(), manager, testAuditor())
	require.NoError(t, err)

	return srv.Handler
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) sessionStatus {
	t.Helper()

	var st sessionStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))

	return st
}

func TestSessionAPI_Login(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantAuth   bool
	}{
		{name: "Valid credential", body: `{"credential":"good"}`, wantStatus: http.StatusOK, wantAuth: true},
		{name: "Rejected credential", body: `{"credential":"bad"}`, wantStatus: http.StatusUnauthorized},
		{name: "Identity provider unavailable", body: `{"credential":"unavailable"}`, wantStatus: http.StatusServiceUnavailable},
		{name: "Empty credential", body: `{"credential":""}`, wantStatus: http.StatusBadRequest},
		{name: "Malformed body", body: `not json`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := newTestManager(t, testBridge(t))
			api := newTestAPI(t, manager)

			rec := do(t, api, http.MethodPost, "/session/login", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)

			_, present := manager.Get()
			assert.Equal(t, tt.wantAuth, present)

			if tt.wantAuth {
				st := decodeStatus(t, rec)
				assert.True(t, st.Authenticated)
				assert.Equal(t, "alice", st.SubjectID)
				assert.NotNil(t, st.ExpiresAt)
				assert.NotContains(t, rec.Body.String(), "rt-1")
			}
		})
	}
}

func TestSessionAPI_Get(t *testing.T) {
	manager := newTestManager(t, testBridge(t))
	api := newTestAPI(t, manager)

	rec := do(t, api, http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeStatus(t, rec).Authenticated)

	_, err := manager.Login(t.Context(), "good")
	require.NoError(t, err)

	rec = do(t, api, http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, rec.Code)

	st := decodeStatus(t, rec)
	assert.True(t, st.Authenticated)
	assert.Equal(t, "alice", st.SubjectID)
}

func TestSessionAPI_Refresh(t *testing.T) {
	t.Run("No session", func(t *testing.T) {
		api := newTestAPI(t, newTestManager(t, testBridge(t)))

		rec := do(t, api, http.MethodPost, "/session/refresh", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Refreshed", func(t *testing.T) {
		bridge := testBridge(t)
		manager := newTestManager(t, bridge)
		api := newTestAPI(t, manager)

		_, err := manager.Login(t.Context(), "good")
		require.NoError(t, err)

		rec := do(t, api, http.MethodPost, "/session/refresh", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, bridge.Refreshes())

		s, ok := manager.Get()
		require.True(t, ok)
		assert.Equal(t, "rt-2", s.RefreshToken)
	})

	t.Run("Refresh token rejected", func(t *testing.T) {
		bridge := testBridge(t)
		bridge.RefreshFunc = func(context.Context, string) (session.TokenPair, error) {
			return session.TokenPair{}, session.NewTerminalError("refresh", errors.New("invalid_grant"))
		}
		manager := newTestManager(t, bridge)
		api := newTestAPI(t, manager)

		_, err := manager.Login(t.Context(), "good")
		require.NoError(t, err)

		rec := do(t, api, http.MethodPost, "/session/refresh", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		_, present := manager.Get()
		assert.False(t, present)
	})

	t.Run("Identity provider unavailable", func(t *testing.T) {
		bridge := testBridge(t)
		bridge.RefreshFunc = func(context.Context, string) (session.TokenPair, error) {
			return session.TokenPair{}, errIdPDown
		}
		manager := newTestManager(t, bridge)
		api := newTestAPI(t, manager)

		_, err := manager.Login(t.Context(), "good")
		require.NoError(t, err)

		rec := do(t, api, http.MethodPost, "/session/refresh", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		_, present := manager.Get()
		assert.True(t, present)
	})
}

func TestSessionAPI_Logout(t *testing.T) {
	manager := newTestManager(t, testBridge(t))
	api := newTestAPI(t, manager)

	_, err := manager.Login(t.Context(), "good")
	require.NoError(t, err)

	rec := do(t, api, http.MethodPost, "/session/logout", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, present := manager.Get()
	assert.False(t, present)

	rec = do(t, api, http.MethodPost, "/session/logout", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSessionAPI_MethodNotAllowed(t *testing.T) {
	api := newTestAPI(t, newTestManager(t, testBridge(t)))

	rec := do(t, api, http.MethodGet, "/session/login", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPing(t *testing.T) {
	api := newTestAPI(t, newTestManager(t, testBridge(t)))

	rec := do(t, api, http.MethodGet, "/ping", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":"ping"}`, rec.Body.String())
}
