package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// completionScripts maps a shell to its script generator and load hint.
var completionScripts = map[string]struct {
	hint string
	gen  func(w io.Writer) error
}{
	"bash": {
		hint: `eval "$(taskview completion bash)"`,
		gen:  func(w io.Writer) error { return rootCmd.GenBashCompletionV2(w, true) },
	},
	"zsh": {
		hint: `eval "$(taskview completion zsh)"`,
		gen:  rootCmd.GenZshCompletion,
	},
	"fish": {
		hint: "taskview completion fish | source",
		gen:  func(w io.Writer) error { return rootCmd.GenFishCompletion(w, true) },
	},
	"powershell": {
		hint: "taskview completion powershell | Out-String | Invoke-Expression",
		gen:  rootCmd.GenPowerShellCompletionWithDesc,
	},
}

var completionCmd = &cobra.Command{
	Use:   "completion <shell>",
	Short: "Print the shell completion script",
	Long: `Print the completion script for bash, zsh, fish or powershell.

Filter arguments of view, query and explain complete field names, status
and priority values, projects and tags of the current task source.`,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		script, ok := completionScripts[args[0]]
		if !ok {
			return fmt.Errorf("unsupported shell %q (supported: bash, zsh, fish, powershell)", args[0])
		}
		// The hint goes to stderr so the script can be piped.
		fmt.Fprintf(cmd.ErrOrStderr(), "# To load completions in your current session:\n#   %s\n", script.hint)
		return script.gen(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(completionCmd)
}
