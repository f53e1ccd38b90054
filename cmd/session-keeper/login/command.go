package login

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openkcm/session-keeper/internal/business"
	"github.com/openkcm/session-keeper/internal/cmdutils"
	"github.com/openkcm/session-keeper/internal/config"
)

// CredentialEnv carries the ID token when --credential-file is not given.
const CredentialEnv = "SESSION_KEEPER_CREDENTIAL"

var errNoCredential = errors.New("no credential: use --credential-file or " + CredentialEnv)

func Cmd(buildInfo string) *cobra.Command {
	var credentialFile string

	cmd := cmdutils.CobraCommand(
		"login",
		"Exchange an ID token for an application session",
		"Reads an identity provider ID token from --credential-file (\"-\" for stdin) or "+
			CredentialEnv+", exchanges it and persists the resulting session.",
		buildInfo,
		cmdutils.RunAsJob,
		func(ctx context.Context, cfg *config.Config) error {
			credential, err := readCredential(credentialFile, os.Stdin, os.Getenv)
			if err != nil {
				return err
			}

			return business.LoginMain(ctx, cfg, credential)
		},
	)

	cmd.Flags().StringVar(&credentialFile, "credential-file", "", "file holding the ID token, - for stdin")

	return cmd
}

func readCredential(path string, stdin io.Reader, getenv func(string) string) (string, error) {
	var raw string

	switch path {
	case "":
		raw = getenv(CredentialEnv)
	case "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading credential from stdin: %w", err)
		}
		raw = string(b)
	default:
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading credential file: %w", err)
		}
		raw = string(b)
	}

	credential := strings.TrimSpace(raw)
	if credential == "" {
		return "", errNoCredential
	}

	return credential, nil
}
