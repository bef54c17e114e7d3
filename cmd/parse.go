package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/giro-cli/internal/model"
	"github.com/sells-group/giro-cli/internal/parser"
)

var parseNIT string

var parseCmd = &cobra.Command{
	Use:   "parse FILE",
	Short: "Parse a saved report page and print its records as JSON",
	Long: `Runs the result parser over a saved HTML page without a browser. Useful for
checking a page captured from the portal or a --fixtures file.

Examples:
  giro-cli parse pages/900123456.html --nit 900123456`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "parse: read file")
		}

		p := parser.New(selectors(cfg.Portal))
		resp := model.RawResponse{
			Identifier: parseNIT,
			Kind:       model.ResponseResults,
			Markup:     string(b),
		}
		state := p.DetectRender(resp.Markup)
		switch state {
		case parser.RenderNoResults:
			resp.Kind = model.ResponseNoResults
		case parser.RenderBlocked:
			return eris.Errorf("parse: %s looks like a block page", args[0])
		}

		records, err := p.Parse(resp)
		if err != nil {
			return eris.Wrap(err, "parse")
		}
		if records == nil {
			records = []model.PaymentRecord{}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"state":   state,
			"records": records,
		})
	},
}

func init() {
	parseCmd.Flags().StringVar(&parseNIT, "nit", "", "keep only rows for this NIT")
	rootCmd.AddCommand(parseCmd)
}
