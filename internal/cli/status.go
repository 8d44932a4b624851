package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/re-cinq/mend/internal/gitx"
	"github.com/re-cinq/mend/internal/observe"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Observe the repository once and show the snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repoDir, err := resolveRepo()
		if err != nil {
			return err
		}

		ctx := context.Background()
		runner := gitx.NewRunner(repoDir)
		if err := runner.CheckVersion(ctx); err != nil {
			return err
		}

		state, err := observe.Observe(ctx, runner, observe.Options{
			Warn: func(msg string) { fmt.Fprintf(os.Stderr, "warning: %s\n", msg) },
		})
		if err != nil {
			return err
		}
		renderState(os.Stdout, state)
		return nil
	},
}
