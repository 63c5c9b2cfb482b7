package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/taskview/internal/filter"
)

var explainJSON bool

type explainOutput struct {
	Source      string `json:"source"`
	Canonical   string `json:"canonical"`
	Fingerprint string `json:"fingerprint"`
	Sort        string `json:"sort"`
	Valid       bool   `json:"valid"`
	Error       string `json:"error,omitempty"`
}

// explain compiles and validates text. A parse error is returned; a
// validation error is reported in the output.
func explain(text string, now time.Time) (explainOutput, error) {
	expr, err := filter.Compile(text)
	if err != nil {
		return explainOutput{}, err
	}
	out := explainOutput{
		Source:      expr.Source(),
		Canonical:   expr.Canonical(),
		Fingerprint: expr.Fingerprint(),
		Sort:        fmt.Sprintf("%s %s", expr.Sort().Field, expr.Sort().Direction),
		Valid:       true,
	}
	if err := filter.Validate(expr, now); err != nil {
		out.Valid = false
		out.Error = describeFilterError(err)
	}
	return out, nil
}

var explainCmd = &cobra.Command{
	Use:   "explain <filter...>",
	Short: "Show how a filter is compiled",
	Long: `Compile a filter and print its canonical form, the fingerprint used as
its cache key and the effective sort order. Two filters with the same
canonical form share cached results.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := explain(strings.Join(args, " "), time.Now())
		if err != nil {
			return fmt.Errorf("compiling filter: %w", err)
		}

		w := cmd.OutOrStdout()
		if explainJSON {
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting explanation as JSON: %w", err)
			}
			fmt.Fprintln(w, string(data))
			return nil
		}

		fmt.Fprintf(w, "  %-14s %s\n", "Canonical:", out.Canonical)
		fmt.Fprintf(w, "  %-14s %s\n", "Fingerprint:", out.Fingerprint)
		fmt.Fprintf(w, "  %-14s %s\n", "Sort:", out.Sort)
		if out.Valid {
			fmt.Fprintf(w, "  %-14s %s\n", "Valid:", "yes")
		} else {
			fmt.Fprintf(w, "  %-14s no (%s)\n", "Valid:", out.Error)
		}
		return nil
	},
}

func init() {
	explainCmd.Flags().BoolVar(&explainJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(explainCmd)
}
