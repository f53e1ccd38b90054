package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/openkcm/session-keeper/pkg/session"
)

func TestHealthServer_FollowsSession(t *testing.T) {
	manager := newTestManager(t, testBridge(t))

	hs, unsubscribe := newHealthServer(manager)
	t.Cleanup(unsubscribe)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hs.Check(t.Context(), &healthpb.HealthCheckRequest{Service: SessionService})
		require.NoError(t, err)

		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	_, err := manager.Login(t.Context(), "good")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	require.NoError(t, manager.Logout(t.Context()))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	resp, err := hs.Check(t.Context(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestHealthServer_LogoutDuringLoginDelivery(t *testing.T) {
	for range 20 {
		manager := newTestManager(t, testBridge(t))

		delivering := make(chan struct{})
		var once sync.Once
		unsubscribeSlow := manager.Subscribe(func(c session.Change) {
			if c.Present {
				once.Do(func() {
					close(delivering)
					time.Sleep(20 * time.Millisecond)
				})
			}
		})
		t.Cleanup(unsubscribeSlow)

		hs, unsubscribe := newHealthServer(manager)
		t.Cleanup(unsubscribe)

		loggedIn := make(chan error, 1)
		go func() {
			_, err := manager.Login(context.Background(), "good")
			loggedIn <- err
		}()

		<-delivering
		require.NoError(t, manager.Logout(t.Context()))
		require.NoError(t, <-loggedIn)

		resp, err := hs.Check(t.Context(), &healthpb.HealthCheckRequest{Service: SessionService})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
	}
}

func TestStartGRPCServer_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	errChan := make(chan error, 1)
	go func() {
		errChan <- StartGRPCServer(ctx, testConfig(), newTestManager(t, testBridge(t)))
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shut down within timeout")
	}
}
