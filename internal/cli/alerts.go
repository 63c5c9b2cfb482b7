package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var alertsSince string

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show session health alerts",
	Long: `Evaluate alert conditions against the session event log and display any
triggered alerts.

Alerts check for slow evaluations, a low cache hit rate, frequently
rejected filters and evaluations discarded before they could publish.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if AlertEngine == nil {
			return fmt.Errorf("alert engine not initialized (event log may be unavailable)")
		}

		since, err := parseSinceDuration(alertsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		alerts, err := AlertEngine.Evaluate(since)
		if err != nil {
			return fmt.Errorf("evaluating alerts: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(alerts) == 0 {
			fmt.Fprintln(out, "No active alerts.")
			return nil
		}

		fmt.Fprintf(out, "%d active alert(s):\n\n", len(alerts))
		for _, alert := range alerts {
			severity := strings.ToUpper(string(alert.Severity))
			fmt.Fprintf(out, "  [%s] %s\n", severity, alert.Message)
			fmt.Fprintf(out, "         triggered at %s\n\n", alert.TriggeredAt.Format("2006-01-02 15:04 UTC"))
		}

		return nil
	},
}

func init() {
	alertsCmd.Flags().StringVar(&alertsSince, "since", "24h", "Time window to evaluate (e.g. 7d, 24h)")
	rootCmd.AddCommand(alertsCmd)
}
