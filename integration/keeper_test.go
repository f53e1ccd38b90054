//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeeperServe(t *testing.T) {
	const name = "serve"

	ctx := t.Context()

	istat := initInfra(t, name)
	defer istat.Close(ctx)

	istat.PrepareValKey(t)
	istat.PrepareIdP(t, "bob")
	istat.PrepareUpstream(t)
	istat.PrepareConfig(t)

	currdir, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")

	commandCtx, cancelCommand := context.WithTimeout(ctx, 60*time.Second)
	defer cancelCommand()

	cmd := exec.CommandContext(commandCtx, filepath.Join(currdir, binary), name)
	cmd.Dir = istat.Procdir

	cmdOutPath := filepath.Join(currdir, name+".log")
	cmdOut, err := os.Create(cmdOutPath)
	require.NoError(t, err, "failed to create a log file")
	defer cmdOut.Close()

	cmd.Stdout = cmdOut
	cmd.Stderr = cmdOut

	require.NoError(t, cmd.Start(), "could not start command")
	// stop gracefully so that coverprofiles are written
	defer func() {
		_ = syscall.Kill(cmd.Process.Pid, syscall.SIGTERM)
		_ = cmd.Wait()
	}()

	client := unixClient(istat.SocketPath(name))

	require.Eventually(t, func() bool {
		resp, err := client.Get(keeperURL("/ping"))
		if err != nil {
			return false
		}
		resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, 20*time.Second, 100*time.Millisecond, "keeper did not start, see %s", cmdOutPath)

	getJSON := func(t *testing.T, method, path, body string) (int, map[string]any) {
		t.Helper()

		req, err := http.NewRequestWithContext(ctx, method, keeperURL(path), strings.NewReader(body))
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		got := map[string]any{}
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &got), string(raw))
		}

		return resp.StatusCode, got
	}

	t.Run("no session yet", func(t *testing.T) {
		code, got := getJSON(t, http.MethodGet, "/session", "")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, false, got["authenticated"])
	})

	t.Run("upstream call without a session goes out unauthenticated", func(t *testing.T) {
		code, got := getJSON(t, http.MethodGet, "/api/v1/keys", "")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "", got["authorization"])
	})

	t.Run("login", func(t *testing.T) {
		code, got := getJSON(t, http.MethodPost, "/session/login", `{"credential":"id-token"}`)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, got["authenticated"])
		assert.Equal(t, "bob", got["subjectId"])
	})

	t.Run("upstream call carries the access token", func(t *testing.T) {
		code, got := getJSON(t, http.MethodGet, "/api/v1/keys", "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "/v1/keys", got["path"])
		assert.True(t, strings.HasPrefix(got["authorization"].(string), "Bearer "))
	})

	t.Run("session is shared through valkey", func(t *testing.T) {
		out, err := istat.Run(t, "", "status")
		require.NoError(t, err)
		assert.Contains(t, out, `"subjectId":"bob"`)
	})

	t.Run("refresh", func(t *testing.T) {
		code, got := getJSON(t, http.MethodPost, "/session/refresh", "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "bob", got["subjectId"])
	})

	t.Run("logout", func(t *testing.T) {
		code, _ := getJSON(t, http.MethodPost, "/session/logout", "")
		assert.Equal(t, http.StatusNoContent, code)

		code, got := getJSON(t, http.MethodGet, "/session", "")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, false, got["authenticated"])
	})
}
