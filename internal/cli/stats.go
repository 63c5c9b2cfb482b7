package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	statsJSON  bool
	statsSince string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display filter session metrics",
	Long: `Display metrics derived from the session event log.

Metrics include applied and rejected filters, cache hits, background
evaluations, evaluation durations and the most frequent filters.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized (event log may be unavailable)")
		}

		sinceTime, err := parseSinceDuration(statsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		metrics, err := MetricsCalc.Calculate(sinceTime)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		out := cmd.OutOrStdout()
		if statsJSON {
			data, err := json.MarshalIndent(metrics, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		fmt.Fprintf(out, "Metrics (since %s)\n\n", sinceTime.Format("2006-01-02"))
		fmt.Fprintf(out, "  %-24s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Fprintf(out, "  %-24s %d\n", "Filters applied:", metrics.FiltersApplied)
		fmt.Fprintf(out, "  %-24s %d\n", "Filters rejected:", metrics.FiltersRejected)
		fmt.Fprintf(out, "  %-24s %d (%.0f%%)\n", "Cache hits:", metrics.CacheHits, metrics.HitRate()*100)
		fmt.Fprintf(out, "  %-24s %d\n", "Background evaluations:", metrics.BackgroundEvals)
		fmt.Fprintf(out, "  %-24s %d\n", "Evaluations completed:", metrics.EvalsCompleted)
		fmt.Fprintf(out, "  %-24s %d\n", "Evaluations discarded:", metrics.EvalsDiscarded)
		fmt.Fprintf(out, "  %-24s %d\n", "Dataset changes:", metrics.DatasetChanges)
		if metrics.EvalsCompleted > 0 {
			fmt.Fprintf(out, "  %-24s %.2fms mean, %.2fms max\n", "Evaluation time:", metrics.MeanEvalMillis, metrics.MaxEvalMillis)
		}

		if len(metrics.RejectedByKind) > 0 {
			fmt.Fprintln(out, "\n  Rejections by kind:")
			for kind, count := range metrics.RejectedByKind {
				fmt.Fprintf(out, "    %-20s %d\n", kind+":", count)
			}
		}

		if len(metrics.TopFilters) > 0 {
			fmt.Fprintln(out, "\n  Top filters:")
			for _, f := range metrics.TopFilters {
				fmt.Fprintf(out, "    %4d  %s\n", f.Count, f.Canonical)
			}
		}

		if metrics.OldestEvent != nil {
			fmt.Fprintf(out, "\n  %-24s %s\n", "Oldest event:", metrics.OldestEvent.Format(time.RFC3339))
		}
		if metrics.NewestEvent != nil {
			fmt.Fprintf(out, "  %-24s %s\n", "Newest event:", metrics.NewestEvent.Format(time.RFC3339))
		}

		return nil
	},
}

// parseSinceDuration parses a human-friendly duration string like "7d", "30d",
// or "24h" and returns the corresponding time in the past.
func parseSinceDuration(s string) (time.Time, error) {
	now := time.Now().UTC()
	s = strings.TrimSpace(s)
	if s == "" {
		return now.AddDate(0, 0, -7), nil
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid day duration %q", s)
		}
		return now.AddDate(0, 0, -days), nil
	}

	if strings.HasSuffix(s, "h") {
		hours, err := strconv.Atoi(strings.TrimSuffix(s, "h"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid hour duration %q", s)
		}
		return now.Add(-time.Duration(hours) * time.Hour), nil
	}

	return time.Time{}, fmt.Errorf("unsupported duration format %q (use e.g. 7d, 30d, 24h)", s)
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output metrics as JSON")
	statsCmd.Flags().StringVar(&statsSince, "since", "7d", "Time window for metrics (e.g. 7d, 30d, 24h)")
	rootCmd.AddCommand(statsCmd)
}
