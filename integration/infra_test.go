//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-keeper/internal/config"
	"github.com/openkcm/session-keeper/internal/dbtest/postgrestest"
	"github.com/openkcm/session-keeper/internal/dbtest/valkeytest"
	"github.com/openkcm/session-keeper/internal/tokentest"
)

type closeFunc func(ctx context.Context)

type infraStat struct {
	PostgresPort   nat.Port
	ValKeyPort     nat.Port
	ConfigFilePath string
	Procdir        string
	Cfg            config.Config

	// sockDir is short enough for a unix socket path.
	sockDir string

	closeFuncs []closeFunc
}

func initInfra(t *testing.T, name string) (istat infraStat) {
	t.Helper()

	// The config is read from $PWD/config.yaml, so every test runs the
	// binary in its own directory.
	wd, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")
	istat.Procdir = filepath.Join(wd, name+"-test")
	istat.ConfigFilePath = filepath.Join(istat.Procdir, "config.yaml")

	err = os.MkdirAll(istat.Procdir, fs.ModePerm)
	require.NoError(t, err, "failed to create a dir for the process")

	err = os.WriteFile(istat.ConfigFilePath, []byte(validConfig), fs.ModePerm)
	require.NoError(t, err, "failed to write config file")

	err = commoncfg.LoadConfig(&istat.Cfg, nil, istat.Procdir)
	require.NoError(t, err, "failed to load config")

	istat.sockDir, err = os.MkdirTemp("", "sk")
	require.NoError(t, err, "failed to create a socket dir")

	istat.Cfg.HTTP.Address = "unix://" + istat.SocketPath(name)
	istat.Cfg.GRPC.Address = ":0"
	istat.Cfg.Storage.Type = config.StorageFile
	istat.Cfg.File.Path = filepath.Join(istat.Procdir, "state", "session.json")
	istat.Cfg.Identity.ClientAuth = config.ClientAuth{Type: config.ClientAuthInsecure, ClientID: "session-keeper"}

	return istat
}

func (istat *infraStat) SocketPath(name string) string {
	return filepath.Join(istat.sockDir, name+".sock")
}

func (istat *infraStat) PreparePostgres(t *testing.T) {
	t.Helper()

	pgClient, pgPort, pgTerminate := postgrestest.Start(t.Context())
	pgClient.Close()

	istat.PostgresPort = pgPort
	istat.closeFuncs = append(istat.closeFuncs, pgTerminate)

	istat.Cfg.Storage.Type = config.StoragePostgres
	istat.Cfg.Keeper.ID = postgrestest.KeeperID
	istat.Cfg.Database.Name = postgrestest.DBName
	istat.Cfg.Database.User = commoncfg.SourceRef{Source: "embedded", Value: postgrestest.DBUser}
	istat.Cfg.Database.Password = commoncfg.SourceRef{Source: "embedded", Value: postgrestest.DBPassword}
	istat.Cfg.Database.Host = commoncfg.SourceRef{Source: "embedded", Value: postgrestest.DBHost}
	istat.Cfg.Database.Port = pgPort.Port()
}

func (istat *infraStat) PrepareValKey(t *testing.T) {
	t.Helper()

	vkClient, vkPort, vkTerminate := valkeytest.Start(t.Context())
	vkClient.Close()

	istat.ValKeyPort = vkPort
	istat.closeFuncs = append(istat.closeFuncs, vkTerminate)

	istat.Cfg.Storage.Type = config.StorageValKey
	istat.Cfg.ValKey.Host = commoncfg.SourceRef{Source: "embedded", Value: net.JoinHostPort("localhost", vkPort.Port())}
	istat.Cfg.ValKey.User = commoncfg.SourceRef{Source: "embedded", Value: ""}
	istat.Cfg.ValKey.Password = commoncfg.SourceRef{Source: "embedded", Value: ""}
}

// PrepareIdP starts an identity provider that exchanges any credential for
// a pair belonging to subject.
func (istat *infraStat) PrepareIdP(t *testing.T, subject string) {
	t.Helper()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"issuer":         srv.URL,
				"token_endpoint": srv.URL + "/oauth2/token",
			})
		case "/oauth2/token":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  tokentest.Mint(t, subject, time.Now().Add(time.Hour)),
				"refresh_token": "refresh-" + subject,
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	istat.Cfg.Identity.Issuer = srv.URL
}

// PrepareUpstream starts an application API that echoes the bearer token it
// received.
func (istat *infraStat) PrepareUpstream(t *testing.T) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"path":          r.URL.Path,
			"authorization": r.Header.Get("Authorization"),
		})
	}))
	t.Cleanup(srv.Close)

	istat.Cfg.Upstream.URL = srv.URL
}

// PrepareConfig writes a config file for running the test into the ConfigFilePath.
func (istat *infraStat) PrepareConfig(t *testing.T) {
	t.Helper()

	cfgMap := make(map[string]any)
	require.NoError(t, mapstructure.Decode(istat.Cfg, &cfgMap), "failed to decode config")

	out, err := yaml.Marshal(cfgMap)
	require.NoError(t, err, "failed to encode config")

	require.NoError(t, os.WriteFile(istat.ConfigFilePath, out, 0o600), "failed to write config")
}

// Run executes the binary in Procdir and returns its stdout.
func (istat *infraStat) Run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	currdir, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, filepath.Join(currdir, binary), append(args, "--graceful-shutdown=0s")...)
	cmd.Dir = istat.Procdir
	cmd.Stdin = bytes.NewBufferString(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if err != nil {
		t.Logf("%v stderr: %s", args, stderr.String())
	}

	return stdout.String(), err
}

// unixClient sends every request to the keeper's unix socket.
func unixClient(socket string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return new(net.Dialer).DialContext(ctx, "unix", socket)
			},
		},
	}
}

func keeperURL(path string) string {
	return (&url.URL{Scheme: "http", Host: "keeper", Path: path}).String()
}

func (istat *infraStat) Close(ctx context.Context) {
	os.RemoveAll(istat.Procdir)
	os.RemoveAll(istat.sockDir)

	for _, close := range istat.closeFuncs {
		close(ctx)
	}
}
