package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/re-cinq/mend/internal/gitx"
	"github.com/re-cinq/mend/internal/observe"
	"github.com/re-cinq/mend/internal/plan"
)

var planJSON bool

func init() {
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Print the plan as JSON")
	rootCmd.AddCommand(planCmd)
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Observe once and print the plan without executing it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
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

		var preview []observe.ConflictDetail
		if state.DivergedRemote > 0 && !state.OngoingRebase && state.Ref.Upstream != "" {
			if mp, perr := observe.PreviewMerge(ctx, runner, "HEAD", state.Ref.Upstream); perr == nil {
				for _, p := range mp.ConflictPaths {
					preview = append(preview, observe.ConflictDetail{Path: p, Hunks: 1, Type: observe.ClassifyConflict(p, nil)})
				}
			}
		}

		result, err := plan.Search(state, plan.GoalFromConfig(cfg), cfg, plan.NewRegistry(preview))
		if err != nil {
			var noPlan *plan.NoPlan
			if errors.As(err, &noPlan) {
				fmt.Fprintf(os.Stderr, "Error: %s\n", noPlan)
				exitCode = 3
				return nil
			}
			return err
		}

		if planJSON {
			return json.NewEncoder(os.Stdout).Encode(result)
		}
		renderPlan(os.Stdout, result)
		return nil
	},
}
