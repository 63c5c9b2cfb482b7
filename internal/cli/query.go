package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/taskview/internal/viewport"
	"github.com/valter-silva-au/taskview/pkg/models"
)

var (
	queryOffset int
	queryLimit  int
	queryJSON   bool
)

// queryOutput is the --json form of a query page.
type queryOutput struct {
	Canonical   string              `json:"canonical"`
	Fingerprint string              `json:"fingerprint"`
	Version     uint64              `json:"version"`
	Total       int                 `json:"total"`
	Offset      int                 `json:"offset"`
	Tasks       []models.TaskRecord `json:"tasks"`
}

var queryCmd = &cobra.Command{
	Use:   "query <filter...>",
	Short: "Evaluate a filter once and print a page of matches",
	Long: `Evaluate a filter against the current task source and print one page
of the ordered matches. Without arguments every task matches.

Examples:
  taskview query status:pending +urgent
  taskview query --offset 20 --limit 20 project:work sort:due
  taskview query --json "due:<today"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Session == nil {
			return fmt.Errorf("session not initialized")
		}
		if queryOffset < 0 {
			return fmt.Errorf("--offset must not be negative")
		}
		limit := queryLimit
		if limit <= 0 {
			limit = config().Viewport.Size
		}

		res, err := Session.Evaluate(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("evaluating filter: %w", err)
		}

		// Offsets past the end are clamped like a viewport.
		vp := viewport.NewManager(limit)
		vp.OnResultsChanged(len(res.IDs))
		state := vp.ScrollTo(queryOffset)

		page := make([]models.TaskRecord, 0, state.Len())
		for _, id := range res.IDs[state.Offset:state.End()] {
			if rec, ok := Session.Lookup(id); ok {
				page = append(page, rec)
			} else {
				page = append(page, models.TaskRecord{ID: id})
			}
		}

		out := cmd.OutOrStdout()
		if queryJSON {
			data, err := json.MarshalIndent(queryOutput{
				Canonical:   res.Expression.Canonical(),
				Fingerprint: res.Key.Fingerprint,
				Version:     res.Key.Version,
				Total:       len(res.IDs),
				Offset:      state.Offset,
				Tasks:       page,
			}, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting query as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		newTableRenderer(out, 0, stdoutIsTerminal()).Render(page, state)
		if state.Total > 0 {
			fmt.Fprintf(out, "\n%d-%d of %d\n", state.Offset+1, state.End(), state.Total)
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "Index of the first match to print")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "Number of matches to print (default viewport.size)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Output the page as JSON")
	rootCmd.AddCommand(queryCmd)
}
