package status

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/session-keeper/internal/business"
	"github.com/openkcm/session-keeper/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"status",
		"Print the persisted session",
		"Prints the subject and expiry of the persisted session. Tokens are never printed.",
		buildInfo,
		cmdutils.RunAsJob,
		business.StatusMain,
	)
}
