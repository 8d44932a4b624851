package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/re-cinq/mend/internal/executor"
	"github.com/re-cinq/mend/internal/gitx"
	"github.com/re-cinq/mend/internal/plan"
)

var (
	runDryRun bool
	runJSON   bool
)

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Record mutating commands instead of executing them")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Emit report records as JSON lines")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Observe, plan, and execute until the goal is reached",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if runDryRun {
			cfg.Safety.DryRun = true
		}

		repoDir, err := resolveRepo()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// On SIGINT the in-flight subprocess finishes (bounded by its
		// timeout), the report records an aborted status, and no further
		// actions run.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			sig, ok := <-sigCh
			if ok {
				fmt.Fprintf(os.Stderr, "\nreceived %s, finishing current action...\n", sig)
				cancel()
			}
		}()

		exe := executor.New(gitx.NewRunner(repoDir), cfg)
		exe.Warn = func(msg string) { fmt.Fprintf(os.Stderr, "warning: %s\n", msg) }

		report, execErr := exe.Execute(ctx)
		renderReport(os.Stdout, report, runJSON)
		if execErr != nil && !runJSON {
			fmt.Fprintf(os.Stderr, "Error: %s\n", execErr)
		}
		exitCode = report.ExitCode()
		return nil
	},
}

// exitCodeFor maps structural errors surfaced outside a report to the exit
// code contract.
func exitCodeFor(err error) int {
	var noPlan *plan.NoPlan
	if errors.As(err, &noPlan) {
		return 3
	}
	var envMissing *gitx.EnvironmentMissing
	if errors.As(err, &envMissing) {
		return 4
	}
	return 2
}
