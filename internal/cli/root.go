package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/re-cinq/mend/internal/config"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	configPath string
	repoPath   string
)

var rootCmd = &cobra.Command{
	Use:   "mend",
	Short: "Drive a git repository toward a declared goal state",
	Long: `mend observes a working repository, plans the shortest safe sequence of
atomic git operations that reaches the configured goal (rebased on
upstream, conflict-free, tests green, pushed with lease), executes one
operation at a time, and replans whenever reality drifts from the plan.

It never invents merge resolutions: non-trivial conflicts are left to
the operator.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mend.toml", "Path to mend config file")
	rootCmd.PersistentFlags().StringVarP(&repoPath, "repo", "C", ".", "Path inside the target repository")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mend %s\n", Version)
	},
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return exitCodeFor(err)
	}
	return exitCode
}

// exitCode is set by subcommands that complete with a non-zero contract
// code (exhausted replans, no plan) without an error to print.
var exitCode int

// loadConfig loads the config file if present, otherwise the defaults, and
// validates it.
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "Error: %s\n", e)
		}
		return nil, fmt.Errorf("%d validation error(s)", len(errs))
	}
	return cfg, nil
}

// resolveRepo walks up from the --repo path to the repository root.
func resolveRepo() (string, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return "", err
	}
	root := findGitRoot(abs)
	if root == "" {
		return "", fmt.Errorf("could not find git repository root from %s", abs)
	}
	return root, nil
}

func findGitRoot(dir string) string {
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
