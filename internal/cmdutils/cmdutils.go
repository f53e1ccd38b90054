package cmdutils

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/health"
	"github.com/openkcm/common-sdk/pkg/logger"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/openkcm/common-sdk/pkg/status"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-keeper/internal/config"
)

const (
	healthStatusTimeout = 5 * time.Second
)

// BusinessFunc is the work a command performs once configuration is loaded.
type BusinessFunc func(context.Context, *config.Config) error

// WrapperFunc prepares the process (logging, telemetry, status server) around
// a BusinessFunc.
type WrapperFunc func(context.Context, BusinessFunc, *config.Config) error

var loadConfig = loadConfigFromFiles

func CobraCommand(use, short, long, buildInfo string, wrapperFunc WrapperFunc, businessFunc BusinessFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(buildInfo)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			err = wrapperFunc(cmd.Context(), businessFunc, cfg)
			if err != nil {
				return fmt.Errorf("running %s: %w", use, err)
			}

			return nil
		},
	}
}

// RunAsService runs fn with telemetry and the status server.
func RunAsService(ctx context.Context, fn BusinessFunc, cfg *config.Config) error {
	return run(ctx, fn, cfg, runOptions{telemetry: true, statusServer: true})
}

// RunAsJob runs fn with logging only, for short CLI commands.
func RunAsJob(ctx context.Context, fn BusinessFunc, cfg *config.Config) error {
	return run(ctx, fn, cfg, runOptions{})
}

type runOptions struct {
	telemetry    bool
	statusServer bool
}

func run(ctx context.Context, fn BusinessFunc, cfg *config.Config, opts runOptions) error {
	if err := logger.InitAsDefault(cfg.Logger, cfg.Application); err != nil {
		return oops.In("cmdutils").Wrapf(err, "initialising the logger")
	}

	ctx = slogctx.With(ctx, "keeper_id", cfg.Keeper.ID)
	slogctx.Debug(ctx, "Starting", slog.Any("storage", cfg.Storage.Type),
		slog.Bool("telemetry", opts.telemetry), slog.Bool("status_server", opts.statusServer))

	if opts.telemetry {
		if err := otlp.Init(ctx, &cfg.Application, &cfg.Telemetry, &cfg.Logger); err != nil {
			return oops.In("cmdutils").Wrapf(err, "initialising telemetry")
		}
	}

	if opts.statusServer {
		go func() {
			if err := startStatusServer(ctx, cfg); err != nil {
				slogctx.Error(ctx, "Status server failed", "error", err)
				_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
			}
		}()
	}

	if err := fn(ctx, cfg); err != nil {
		return oops.In("cmdutils").Wrapf(err, "running the keeper command")
	}

	return nil
}

// configPaths are searched in order for config.yaml.
var configPaths = []string{
	"/etc/session-keeper",
	"$HOME/.session-keeper",
	".",
}

func loadConfigFromFiles(buildInfo string) (*config.Config, error) {
	cfg := &config.Config{}

	if err := commoncfg.LoadConfig(cfg, map[string]any{}, configPaths...); err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	if err := commoncfg.UpdateConfigVersion(&cfg.BaseConfig, buildInfo); err != nil {
		return nil, fmt.Errorf("updating the version configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return cfg, nil
}

func startStatusServer(ctx context.Context, cfg *config.Config) error {
	liveness := status.WithLiveness(
		health.NewHandler(
			health.NewChecker(health.WithDisabledAutostart()),
		),
	)

	healthOptions := []health.Option{
		health.WithDisabledAutostart(),
		health.WithTimeout(healthStatusTimeout),
		health.WithStatusListener(statusListener),
	}

	if cfg.Storage.Type == config.StoragePostgres {
		connStr, err := cfg.Database.URL()
		if err != nil {
			return fmt.Errorf("making connection string from config: %w", err)
		}

		healthOptions = append(healthOptions, health.WithDatabaseChecker("pgx", connStr))
	}

	readiness := status.WithReadiness(
		health.NewHandler(
			health.NewChecker(healthOptions...),
		),
	)

	err := status.Start(ctx, &cfg.BaseConfig, liveness, readiness)
	if err != nil {
		return fmt.Errorf("starting status server: %w", err)
	}

	return nil
}

func statusListener(ctx context.Context, state health.State) {
	attrs := []any{"status", state.Status}
	for name, check := range state.CheckState {
		if check.Result != nil {
			attrs = append(attrs, name, check.Result.Error())
		}
	}

	slogctx.Info(ctx, "Readiness status changed", attrs...)
}
