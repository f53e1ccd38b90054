package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openkcm/common-sdk/pkg/utils"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-keeper/cmd/session-keeper/login"
	"github.com/openkcm/session-keeper/cmd/session-keeper/logout"
	"github.com/openkcm/session-keeper/cmd/session-keeper/migrate"
	"github.com/openkcm/session-keeper/cmd/session-keeper/serve"
	"github.com/openkcm/session-keeper/cmd/session-keeper/status"
)

// BuildInfo will be set by the build system
var BuildInfo = "{}"

const serveCmdName = "serve"

func versionCmd(buildInfo string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			value, err := utils.ExtractFromComplexValue(buildInfo)
			if err != nil {
				return fmt.Errorf("reading build info: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
			return err
		},
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "session-keeper",
		Short:         "Session Keeper",
		Long:          "Keeps an application session obtained through an identity provider token exchange alive.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().Duration("graceful-shutdown", time.Second,
		"time the serve command waits after its servers stopped before exiting")

	cmd.AddCommand(
		versionCmd(BuildInfo),
		serve.Cmd(BuildInfo),
		login.Cmd(BuildInfo),
		logout.Cmd(BuildInfo),
		status.Cmd(BuildInfo),
		migrate.Cmd(BuildInfo),
	)

	return cmd
}

func execute(ctx context.Context) error {
	executed, err := rootCmd().ExecuteContextC(ctx)
	if err != nil {
		slogctx.Error(ctx, "Command failed", "error", err)
		_, _ = fmt.Fprintln(os.Stderr, err)

		return err
	}

	if executed.Name() != serveCmdName {
		return nil
	}

	grace, _ := executed.Flags().GetDuration("graceful-shutdown")
	if grace <= 0 {
		return nil
	}

	_, _ = fmt.Fprintf(os.Stderr, "Graceful shutdown in %s\n", grace)
	time.Sleep(grace)

	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
