package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sourcesDir string

func init() {
	sourcesCmd.Flags().StringVar(&sourcesDir, "sources-dir", "", "Directory of *.json5 source configs. Defaults to HARVEST_SOURCES_DIR.")
	rootCmd.AddCommand(sourcesCmd)
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Validates and lists the configured sources.",
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := loadSources(nil, sourcesDir)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tBASE URL\tWIDGET")
		for _, s := range sources {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", s.Name, s.Kind, s.BaseURL, s.Widget.Enabled())
		}
		return w.Flush()
	},
}
