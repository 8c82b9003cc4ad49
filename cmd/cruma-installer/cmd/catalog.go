package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oshokin/cruma-installer/internal/repository/catalog"
)

var (
	// catalogPath is the catalog file to read.
	catalogPath string

	// catalogCmd groups release catalog commands.
	catalogCmd = &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the release catalog",
	}

	// catalogListCmd prints every release, newest first.
	catalogListCmd = &cobra.Command{
		Use:   "list",
		Short: "List releases and the newest release of each channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo := catalog.NewFileRepository(catalogPath, settings.Algorithm())

			releases, err := repo.Load(cmd.Context())
			if err != nil {
				return err
			}

			latest := make(map[string]string)

			for _, channel := range releases.Channels() {
				if spec, latestErr := releases.Latest(channel); latestErr == nil {
					latest[channel] = spec.Version
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "VERSION\tCHANNEL\tBINARY\tLATEST\tURL")

			for _, spec := range releases.Sorted() {
				mark := ""
				if latest[spec.Channel()] == spec.Version {
					mark = "*"
				}

				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					spec.Version, spec.Channel(), spec.Installed(), mark, spec.SourceURL)
			}

			return w.Flush()
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	catalogCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "releases.yaml", "path to the catalog file")

	catalogCmd.AddCommand(catalogListCmd)
	rootCmd.AddCommand(catalogCmd)
}
