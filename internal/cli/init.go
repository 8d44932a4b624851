package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

// starterConfig is written by `mend init`. Defaults are conservative:
// dry-run off but force-push disabled, no resolution rules.
const starterConfig = `[goal]
# resolve_only | rebase_to_upstream | push_with_lease
mode = "rebase_to_upstream"
tests_must_pass = false

[strategy]
enable_rerere = true
conflict_style = "zdiff3"

# [[strategy.rules]]
# pattern = "**/*.lock"
# resolution = "theirs"

[safety]
dry_run = false
allow_force_push = false
max_test_runtime_sec = 600

[tests]
command = "go test ./..."
`

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter mend.toml into a repository",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}

		absDir, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		// Verify it's a git repo
		if _, err := os.Stat(filepath.Join(absDir, ".git")); err != nil {
			return fmt.Errorf("%s is not a git repository (no .git directory)", absDir)
		}

		target := filepath.Join(absDir, "mend.toml")
		if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("%s already exists", target)
		}

		if err := os.WriteFile(target, []byte(starterConfig), 0644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("  config %s\n", target)
		fmt.Println("\nDone.")
		return nil
	},
}
