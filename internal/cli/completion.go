package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var completionInstall bool

// shellCompletion describes how one shell's completion script is generated
// and where --install puts it, relative to the user's home directory.
type shellCompletion struct {
	generate func(w io.Writer) error
	// installPath is empty when --install is not supported.
	installPath []string
	loadHint    string
}

var shellCompletions = map[string]shellCompletion{
	"bash": {
		generate:    func(w io.Writer) error { return rootCmd.GenBashCompletionV2(w, true) },
		installPath: []string{".local", "share", "bash-completion", "completions", "ccenter"},
		loadHint:    `eval "$(ccenter completion bash)"`,
	},
	"zsh": {
		generate:    func(w io.Writer) error { return rootCmd.GenZshCompletion(w) },
		installPath: []string{".local", "share", "zsh", "site-functions", "_ccenter"},
		loadHint:    `eval "$(ccenter completion zsh)"`,
	},
	"fish": {
		generate:    func(w io.Writer) error { return rootCmd.GenFishCompletion(w, true) },
		installPath: []string{".config", "fish", "completions", "ccenter.fish"},
		loadHint:    "ccenter completion fish | source",
	},
	"powershell": {
		generate: func(w io.Writer) error { return rootCmd.GenPowerShellCompletionWithDesc(w) },
		loadHint: "ccenter completion powershell | Out-String | Invoke-Expression",
	},
}

var completionCmd = &cobra.Command{
	Use:   "completion <shell>",
	Short: "Set up shell completions for ccenter",
	Long: `Set up shell tab-completions for ccenter commands, flags and
recommendation ids.

Supported shells: bash, zsh, fish, powershell

Quick install (writes the script under your home directory):

  ccenter completion bash --install
  ccenter completion zsh --install
  ccenter completion fish --install

Or print the completion script to stdout:

  ccenter completion powershell`,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		shell, ok := shellCompletions[args[0]]
		if !ok {
			return fmt.Errorf("unsupported shell %q (supported: bash, zsh, fish, powershell)", args[0])
		}

		if completionInstall {
			return installCompletion(args[0], shell)
		}

		// Hints go to stderr so the script can be piped.
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "# To load completions in your current session:\n#   %s\n", shell.loadHint)
		return shell.generate(cmd.OutOrStdout())
	},
}

func installCompletion(name string, shell shellCompletion) error {
	if len(shell.installPath) == 0 {
		return fmt.Errorf("automatic install is not supported for %s; run 'ccenter completion %s' and add the output to your profile", name, name)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("detecting home directory: %w", err)
	}
	target := filepath.Join(append([]string{home}, shell.installPath...)...)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("creating completion directory: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating completion file %s: %w", target, err)
	}
	writeErr := shell.generate(f)
	closeErr := f.Close()
	if writeErr != nil {
		return writeErr
	}
	if closeErr != nil {
		return fmt.Errorf("closing completion file %s: %w", target, closeErr)
	}

	fmt.Printf("%s completions installed to %s\n", capitalize(name), target)
	fmt.Println("Restart your shell to pick them up.")
	return nil
}

func init() {
	completionCmd.Flags().BoolVar(&completionInstall, "install", false,
		"Install completions into your home directory")

	// Replace Cobra's default completion command.
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(completionCmd)
}
