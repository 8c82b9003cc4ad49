package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/cruma-installer/internal/domain/release"
	"github.com/oshokin/cruma-installer/internal/service/installer"
)

var (
	// installOptions collects the install flags.
	installOptions = new(installer.Options)

	// installCmd installs one release.
	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Download, verify, publish and smoke-test a release",
		Long: `Install a release given by flags or picked from a release catalog.

Exit status: 0 installed and verified, 1 download or digest failure,
2 staging or publish failure, 3 installed but remediation or the
smoke test failed.`,
		Example: `  cruma-installer install --name cruma-agent --version 0.3.0-beta.3 \
    --url 'https://files.cruma.io/files/tunnel-agent%2Fv0.3.0-beta.3%2Fcruma' \
    --sha256 <digest> --binary-name cruma
  cruma-installer install --catalog releases.yaml --channel beta`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := *installOptions
			opts.Settings = settings

			result, err := installer.Run(cmd.Context(), &opts)
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
	flags := installCmd.Flags()
	spec := &installOptions.Release

	flags.StringVar(&spec.Name, "name", "", "release name")
	flags.StringVar(&spec.Version, "version", "", "release version, for example 0.3.0-beta.3")
	flags.StringVar(&spec.SourceURL, "url", "", "artifact URL, passed to the server unmodified")
	flags.StringVar(&spec.ExpectedDigest, "sha256", "", "expected hex digest of the artifact")
	flags.StringVar(&spec.BinaryName, "binary-name", "", "installed file name (defaults to --name)")
	flags.StringSliceVar(&spec.Replaces, "replaces", nil, "file names earlier releases installed under")

	flags.StringVar(&installOptions.InstallDir, "dir", "", "install directory (overrides settings)")
	flags.StringVar(&installOptions.Token, "token", "", "text expected in `<binary> --version` output")
	flags.BoolVar(&installOptions.CleanupReplaced, "cleanup-replaced", false,
		"remove files named by --replaces after a successful install")

	flags.StringVar(&installOptions.CatalogPath, "catalog", "", "pick the release from this catalog file")
	flags.StringVar(&installOptions.Channel, "channel", "",
		"catalog channel to install the newest release of (default "+release.ChannelStable+")")
	flags.StringVar(&installOptions.ReleaseVersion, "release-version", "", "exact catalog version to install")

	installCmd.MarkFlagsMutuallyExclusive("catalog", "url")
	installCmd.MarkFlagsMutuallyExclusive("channel", "release-version")

	rootCmd.AddCommand(installCmd)
}
