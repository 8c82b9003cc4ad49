package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/cruma-installer/internal/service/formula"
)

var (
	// formulaOptions collects the formula flags.
	formulaOptions = new(formula.Options)

	// formulaCmd renders a Homebrew formula for a release artifact.
	formulaCmd = &cobra.Command{
		Use:   "formula",
		Short: "Generate a Homebrew formula for a binary artifact",
		Example: `  cruma-installer formula --name cruma-tunnel --version 0.3.0-beta.3 \
    --url https://files.cruma.io/path/to/binary --binary-name cruma --nounzip \
    --catalog releases.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := *formulaOptions
			opts.Settings = settings

			result, err := formula.Run(cmd.Context(), &opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Wrote formula to %s\n", result.Path)
			_, _ = fmt.Fprintf(out, "SHA256: %s\n", result.SHA256)
			_, _ = fmt.Fprintf(out, "MD5:    %s\n", result.MD5)

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := formulaCmd.Flags()
	flags.StringVar(&formulaOptions.Name, "name", "", "formula name, for example cruma-tunnel")
	flags.StringVar(&formulaOptions.Version, "version", "", "release version")
	flags.StringVar(&formulaOptions.URL, "url", "", "download URL of the binary artifact")
	flags.StringVar(&formulaOptions.Desc, "desc", "", "one-line description (default \"<name> CLI\")")
	flags.StringVar(&formulaOptions.Homepage, "homepage", formula.DefaultHomepage, "project homepage URL")
	flags.StringVar(&formulaOptions.BinaryName, "binary-name", "", "name of the binary (defaults to --name)")
	flags.StringVar(&formulaOptions.OutputDir, "output-dir", formula.DefaultOutputDir, "directory for the formula file")
	flags.BoolVar(&formulaOptions.NoUnzip, "nounzip", false, "install the raw download without unpacking")
	flags.BoolVar(&formulaOptions.AdHocSign, "ad-hoc-sign", true,
		"add a post_install hook that clears quarantine and ad-hoc signs the binary")
	flags.StringVar(&formulaOptions.CatalogPath, "catalog", "", "also record the release in this catalog file")
	flags.StringSliceVar(&formulaOptions.Replaces, "replaces", nil, "earlier binary names recorded in the catalog")

	for _, name := range []string{"name", "version", "url"} {
		_ = formulaCmd.MarkFlagRequired(name)
	}

	rootCmd.AddCommand(formulaCmd)
}
