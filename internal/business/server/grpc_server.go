package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/openkcm/common-sdk/pkg/commongrpc"
	"github.com/samber/oops"
	"google.golang.org/grpc/health"

	slogctx "github.com/veqryn/slog-context"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/openkcm/session-keeper/internal/config"
	"github.com/openkcm/session-keeper/pkg/session"
)

// SessionService is the health service name that reports whether a session
// is held. The empty service name always reports the process itself.
const SessionService = "session"

// newHealthServer returns a health server whose session service follows the
// manager's session.
func newHealthServer(manager *session.Manager) (*health.Server, func()) {
	hs := health.NewServer()

	// Changes may be delivered out of order; the status always reflects the
	// session held when it is set.
	var mu sync.Mutex
	update := func() {
		mu.Lock()
		defer mu.Unlock()

		status := healthpb.HealthCheckResponse_NOT_SERVING
		if _, present := manager.Get(); present {
			status = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(SessionService, status)
	}

	update()
	unsubscribe := manager.Subscribe(func(session.Change) { update() })

	return hs, unsubscribe
}

func StartGRPCServer(ctx context.Context, cfg *config.Config, manager *session.Manager) error {
	grpcServer := commongrpc.NewServer(ctx, &cfg.GRPC.GRPCServer)

	hs, unsubscribe := newHealthServer(manager)
	defer unsubscribe()

	healthpb.RegisterHealthServer(grpcServer, hs)

	listener, err := new(net.ListenConfig).Listen(ctx, "tcp", cfg.GRPC.Address)
	if err != nil {
		return oops.In("gRPC Server").
			WithContext(ctx).
			Wrapf(err, "creating listener")
	}

	go func() {
		slogctx.Info(ctx, "Starting GRPC server", "address", cfg.GRPC.Address)

		if err := grpcServer.Serve(listener); err != nil {
			slogctx.Error(ctx, "Failed to serve gRPC endpoint", "error", err)
		}

		slogctx.Info(ctx, "Stopped gRPC server")
	}()

	<-ctx.Done()

	hs.Shutdown()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		slogctx.Info(ctx, "Completed graceful shutdown of gRPC server")
	case <-time.After(cfg.GRPC.ShutdownTimeout):
		grpcServer.Stop()
		slogctx.Warn(ctx, "Forced gRPC server shutdown after timeout", "timeout", cfg.GRPC.ShutdownTimeout)
	}

	return nil
}
