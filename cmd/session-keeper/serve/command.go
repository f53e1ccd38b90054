package serve

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/session-keeper/internal/business"
	"github.com/openkcm/session-keeper/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"serve",
		"Session Keeper service",
		"Restores the application session, refreshes it before it expires and serves the local session API.",
		buildInfo,
		cmdutils.RunAsService,
		business.KeeperMain,
	)
}
