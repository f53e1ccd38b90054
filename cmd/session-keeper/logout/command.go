package logout

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/session-keeper/internal/business"
	"github.com/openkcm/session-keeper/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"logout",
		"Clear the persisted session",
		"",
		buildInfo,
		cmdutils.RunAsJob,
		business.LogoutMain,
	)
}
