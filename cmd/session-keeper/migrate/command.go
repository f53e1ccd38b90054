package migrate

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/session-keeper/internal/business"
	"github.com/openkcm/session-keeper/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"migrate",
		"Session Keeper migrations",
		"Applies the keeper_sessions schema used by the postgres storage.",
		buildInfo,
		cmdutils.RunAsJob,
		business.MigrateMain,
	)
}
