package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/session-keeper/internal/audit"
	"github.com/openkcm/session-keeper/internal/config"
	"github.com/openkcm/session-keeper/internal/tokentest"
	"github.com/openkcm/session-keeper/pkg/session"
	sessionmock "github.com/openkcm/session-keeper/pkg/session/mock"
)

var errIdPDown = errors.New("connection refused")

func testConfig() *config.Config {
	return &config.Config{
		BaseConfig: commoncfg.BaseConfig{
			Application: commoncfg.Application{
				Name: "test-app",
			},
		},
		HTTP: config.HTTPServer{
			Address:         "localhost:0",
			ShutdownTimeout: time.Second,
		},
		GRPC: config.GRPCServer{
			GRPCServer: commoncfg.GRPCServer{
				Address: "localhost:0",
			},
			ShutdownTimeout: time.Second,
		},
		Upstream: config.Upstream{
			Timeout: 5 * time.Second,
		},
	}
}

// testBridge issues sessions for the credential "good" and rejects any other.
func testBridge(t *testing.T) *sessionmock.Bridge {
	t.Helper()

	return &sessionmock.Bridge{
		ExchangeFunc: func(_ context.Context, credential string) (session.TokenPair, error) {
			switch credential {
			case "good":
				return session.TokenPair{
					AccessToken:  tokentest.Mint(t, "alice", time.Now().Add(time.Hour)),
					RefreshToken: "rt-1",
				}, nil
			case "unavailable":
				return session.TokenPair{}, session.NewRetryableError("exchange", errIdPDown)
			default:
				return session.TokenPair{}, session.NewTerminalError("exchange", errors.New("invalid_grant"))
			}
		},
		RefreshFunc: func(_ context.Context, _ string) (session.TokenPair, error) {
			return session.TokenPair{
				AccessToken:  tokentest.Mint(t, "alice", time.Now().Add(2*time.Hour)),
				RefreshToken: "rt-2",
			}, nil
		},
	}
}

func newTestManager(t *testing.T, bridge *sessionmock.Bridge) *session.Manager {
	t.Helper()

	m, err := session.NewManager(session.Config{}, bridge, sessionmock.NewInMemPersister(nil, nil, nil))
	require.NoError(t, err)
	t.Cleanup(m.Close)

	return m
}

func testAuditor() *audit.Auditor {
	return audit.New(nil, "keeper-test")
}
