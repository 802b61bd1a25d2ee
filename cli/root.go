// Package cli contains the commands of the portal-upload command line tool.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/classify"
	"github.com/spf13/cobra"
)

// errReported is returned once the failure was already printed together with the usage.
var errReported = errors.New("error already reported")

// NewRootCommand ...
func NewRootCommand(logger log.Logger, envRepo env.Repository) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "portal-upload",
		Short: "Upload a resource archive to the CFX portal",
		Long: `portal-upload replaces the content of a CFX portal asset with a zip archive.

Example usage:
  portal-upload upload --cookie <forum_cookie> --asset-name my-resource
  portal-upload upload --cookie <forum_cookie> --asset-id 42 --zip-path build/my-resource.zip
  portal-upload upload --cookie <forum_cookie> --skip-upload`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Unknown command \"%s\".\n", args[0])
			cmd.SetOut(cmd.ErrOrStderr())
			if err := cmd.Usage(); err != nil {
				return err
			}
			return errReported
		},
	}

	rootCmd.AddCommand(newUploadCommand(logger, envRepo))

	return rootCmd
}

// Execute runs the command line tool and returns the process exit code.
func Execute(cmd *cobra.Command, logger log.Logger, args []string, stdout, stderr io.Writer) int {
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			logger.Errorf(classify.Format(err))
		}
		return 1
	}
	return 0
}
