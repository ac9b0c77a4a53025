package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/maltedev/inventory-harvester/internal/config"
	"github.com/maltedev/inventory-harvester/internal/extract"
)

var extractFlags struct {
	file    string
	anchor  string
	label   string
	shape   string
	idField string
	fields  []string
}

func init() {
	f := extractCmd.Flags()
	f.StringVar(&extractFlags.file, "file", "-", "HTML or script file to scan, - for stdin.")
	f.StringVar(&extractFlags.anchor, "anchor", "", "Text that must occur before the labelled region. Defaults to --label.")
	f.StringVar(&extractFlags.label, "label", "", "Key whose bracketed value holds the records.")
	f.StringVar(&extractFlags.shape, "shape", "records", "Record layout: records, pairs or id_map.")
	f.StringVar(&extractFlags.idField, "id-field", "id", "Field holding the record id.")
	f.StringSliceVar(&extractFlags.fields, "field", nil, "Value field(s) to copy. Defaults to quantity.")
	extractCmd.MarkFlagRequired("label")
	rootCmd.AddCommand(extractCmd)
}

var extractCmd = &cobra.Command{
	Use:   "extract --label <key> [--file page.html]",
	Short: "Runs the script extractor over a saved page, for tuning source extract specs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if extractFlags.file == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(extractFlags.file)
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		spec := config.ExtractSpec{
			Anchor:      extractFlags.anchor,
			Label:       extractFlags.label,
			Shape:       extractFlags.shape,
			IDField:     extractFlags.idField,
			ValueFields: extractFlags.fields,
		}.Spec()

		records := extract.ExtractScripts(string(data), spec)
		logger.Debug("extracted records", "count", len(records), "shape", spec.Pattern.Shape)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	},
}
