package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/cruma-installer/internal/service/installer"
)

var (
	// remediateOptions collects the remediate flags.
	remediateOptions = new(installer.RemediateOptions)

	// remediateCmd re-applies remediation to an installed binary.
	remediateCmd = &cobra.Command{
		Use:   "remediate",
		Short: "Re-apply permissions, quarantine removal and signing, then smoke-test",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := *remediateOptions
			opts.Settings = settings

			result, err := installer.RunRemediate(cmd.Context(), &opts)
			if err != nil {
				return err
			}

			exitCode = installer.ExitCode(result)

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := remediateCmd.Flags()
	flags.StringVar(&remediateOptions.BinaryName, "binary-name", "", "installed file name")
	flags.StringVar(&remediateOptions.InstallDir, "dir", "", "install directory (overrides settings)")
	flags.StringVar(&remediateOptions.Token, "token", "", "text expected in `<binary> --version` output")

	_ = remediateCmd.MarkFlagRequired("binary-name")

	rootCmd.AddCommand(remediateCmd)
}
