// Package valkeytest runs a throwaway Valkey for tests that exercise the
// valkey session persister.
package valkeytest

import (
	"context"
	"fmt"
	"net"

	"github.com/docker/go-connections/nat"
	"github.com/valkey-io/valkey-go"

	valkeycontainer "github.com/testcontainers/testcontainers-go/modules/valkey"
	slogctx "github.com/veqryn/slog-context"
)

const Image = "valkey/valkey:8-alpine"

// Start runs a Valkey container and returns a connected client, the mapped
// port and a terminate func. Closing the client is left to the caller. Any
// setup failure panics.
func Start(ctx context.Context) (valkey.Client, nat.Port, func(ctx context.Context)) {
	container, err := valkeycontainer.Run(ctx, Image)
	must(ctx, err, "starting valkey container")

	host, err := container.Host(ctx)
	must(ctx, err, "resolving valkey container host")

	port, err := container.MappedPort(ctx, nat.Port("6379/tcp"))
	must(ctx, err, "mapping valkey port")

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{net.JoinHostPort(host, port.Port())},
		DisableCache: true,
	})
	must(ctx, err, "connecting to valkey")

	must(ctx, client.Do(ctx, client.B().Ping().Build()).Error(), "pinging valkey")

	return client, port, func(ctx context.Context) {
		must(ctx, container.Terminate(ctx), "terminating valkey container")
	}
}

func must(ctx context.Context, err error, what string) {
	if err == nil {
		return
	}

	slogctx.Error(ctx, "Valkey test setup failed", "step", what, "error", err)
	panic(fmt.Errorf("%s: %w", what, err))
}
