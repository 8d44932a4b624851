package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/re-cinq/mend/internal/config"
	"github.com/re-cinq/mend/internal/gitx"
	"github.com/re-cinq/mend/internal/observe"
	"github.com/re-cinq/mend/internal/plan"
)

// Executor drives the perceive-plan-act loop. The correlation-id counter
// and the subprocess journal (owned by the runner) live on the instance;
// there is no global state.
type Executor struct {
	Runner *gitx.Runner
	Cfg    *config.Config
	Hooks  map[string]Hook

	// Warn receives observer parse warnings; optional.
	Warn func(string)

	records    []Record
	corr       int
	lastTests  observe.TestResult
	timedOut   map[string]bool
	lastBackup string
}

// timeoutPenalty is added to an action's cost after it has timed out once,
// steering the next plan toward another route when one exists.
const timeoutPenalty = 20.0

// New builds an executor with the builtin hooks wired to the runner.
func New(r *gitx.Runner, cfg *config.Config) *Executor {
	r.ObserveTimeout = time.Duration(cfg.Timeouts.ObserveSec) * time.Second
	r.MutateTimeout = time.Duration(cfg.Timeouts.MutateSec) * time.Second
	r.DryRun = cfg.Safety.DryRun
	r.Env = append(r.Env, "GIT_EDITOR=true", "GIT_SEQUENCE_EDITOR=true")
	if cfg.Strategy.ConflictStyle != "" {
		// Injected as config-over-environment so the argv whitelist stays
		// closed to global -c flags.
		r.Env = append(r.Env,
			"GIT_CONFIG_COUNT=1",
			"GIT_CONFIG_KEY_0=merge.conflictstyle",
			"GIT_CONFIG_VALUE_0="+cfg.Strategy.ConflictStyle,
		)
	}
	e := &Executor{
		Runner:    r,
		Cfg:       cfg,
		lastTests: observe.TestsUnknown,
		timedOut:  make(map[string]bool),
	}
	e.Hooks = NewHooks(r, cfg, func(ref string) { e.lastBackup = ref })
	return e
}

// record appends a report record under a fresh correlation id.
func (e *Executor) record(level, action, predicted, observed string, exitCode int, format string, args ...any) {
	e.corr++
	e.records = append(e.records, Record{
		Time:            time.Now().UTC(),
		Level:           level,
		CorrelationID:   e.corr,
		Action:          action,
		PredictedDigest: predicted,
		ObservedDigest:  observed,
		ExitCode:        exitCode,
		Message:         fmt.Sprintf(format, args...),
	})
}

func (e *Executor) report(status Status, replans int) (Report, error) {
	return Report{
		Status:  status,
		Records: e.records,
		Replans: replans,
		Journal: e.Runner.Journal(),
	}, nil
}

// observe materializes a snapshot, carrying the last test result forward.
func (e *Executor) observe(ctx context.Context) (observe.RepoState, error) {
	return observe.Observe(ctx, e.Runner, observe.Options{
		TestsLastResult: e.lastTests,
		Warn:            e.Warn,
	})
}

// buildRegistry captures a merge-tree preview of the pending rebase (when
// one is relevant) so action predictions stay pure.
func (e *Executor) buildRegistry(ctx context.Context, s observe.RepoState) *plan.Registry {
	var preview []observe.ConflictDetail
	if s.DivergedRemote > 0 && !s.OngoingRebase && s.Ref.Upstream != "" {
		if mp, err := observe.PreviewMerge(ctx, e.Runner, "HEAD", s.Ref.Upstream); err == nil {
			for _, p := range mp.ConflictPaths {
				preview = append(preview, observe.ConflictDetail{
					Path:  p,
					Hunks: 1,
					Type:  observe.ClassifyConflict(p, nil),
				})
			}
		}
	}
	return plan.NewRegistry(preview).WithCostPenalty(e.timedOut, timeoutPenalty)
}

// Execute runs the loop to a terminal status. Transient failures (non-zero
// exits, drift) are consumed by replanning; structural errors (NoPlan,
// PolicyViolation, persistent ParseError, EnvironmentMissing) end the
// execution and are also returned to the caller.
func (e *Executor) Execute(ctx context.Context) (Report, error) {
	if err := e.Runner.CheckVersion(ctx); err != nil {
		e.record("error", "", "", "", 0, "%s", err)
		rep, _ := e.report(StatusEnvMissing, 0)
		return rep, err
	}

	if e.Cfg.Strategy.EnableRerere {
		// rerere replay only works when the repository has it switched on;
		// a missing setting is worth a warning, not a failure.
		if res, err := e.Runner.Run(ctx, "config", "--get", "rerere.enabled"); err != nil || strings.TrimSpace(res.Stdout) != "true" {
			e.record("warn", "", "", "", 0, "strategy.enable_rerere is set but rerere.enabled is not true in git config")
		}
	}

	goal := plan.GoalFromConfig(e.Cfg)
	replans := 0
	lastConflicts := -1 // conflict count at the previous replan, for progress tracking

	var current plan.Plan
	var queue []plan.Step
	planFresh := false

	for {
		if ctx.Err() != nil {
			e.record("warn", "", "", "", 0, "cancelled, no further actions")
			return e.report(StatusAborted, replans)
		}

		state, err := e.observe(ctx)
		if err != nil {
			e.record("error", "", "", "", 0, "observation failed: %s", err)
			rep, _ := e.report(StatusFatal, replans)
			return rep, err
		}
		e.record("info", "", "", state.Digest(), 0, "observed %s, %d conflict(s), risk %s",
			describeRef(state), len(state.Conflicts), state.RiskLevel)

		if goal.Satisfied(state) {
			e.recordRangeDiff(ctx)
			e.record("info", "", "", state.Digest(), 0, "goal reached")
			return e.report(StatusGoalReached, replans)
		}

		if len(queue) == 0 {
			reg := e.buildRegistry(ctx, state)
			current, err = plan.Search(state, goal, e.Cfg, reg)
			if err != nil {
				var noPlan *plan.NoPlan
				if errors.As(err, &noPlan) {
					e.record("error", "", "", state.Digest(), 0, "%s", noPlan)
					rep, _ := e.report(StatusNoPlan, replans)
					return rep, err
				}
				rep, _ := e.report(StatusFatal, replans)
				return rep, err
			}
			if current.Empty() {
				// Goal test above said unsatisfied but the planner found
				// nothing to do: treat as exhausted rather than spin.
				e.record("error", "", "", state.Digest(), 0, "planner returned an empty plan for an unsatisfied goal")
				return e.report(StatusExhaustedReplans, replans)
			}
			queue = current.Steps
			planFresh = true
			for _, note := range current.Notes {
				e.record("info", "", "", "", 0, "plan: %s", note)
			}
		}

		step := queue[0]
		reg := e.buildRegistry(ctx, state)
		action, ok := reg.Lookup(step.Name)
		if !ok {
			rep, _ := e.report(StatusFatal, replans)
			return rep, fmt.Errorf("planned action %q not in registry", step.Name)
		}
		if !action.Applicable(state, e.Cfg) {
			if planFresh {
				// A plan produced from this very state must start with an
				// applicable action; anything else indicates a bug.
				err := &Drift{ObservedDigest: state.Digest()}
				e.record("error", step.Name, "", state.Digest(), 0, "first planned action not applicable: %s", err)
				rep, _ := e.report(StatusFatal, replans)
				return rep, err
			}
			// A continuing plan tail went stale; replan from here.
			e.record("warn", step.Name, "", state.Digest(), 0, "planned action no longer applicable, replanning")
			queue = nil
			replans++
			if replans > e.Cfg.Planner.MaxReplans {
				return e.report(StatusExhaustedReplans, replans)
			}
			continue
		}
		planFresh = false

		predicted := action.Predict(state, e.Cfg)
		hookErr := e.runHook(ctx, step.Name, state)

		if hookErr != nil {
			var policy *PolicyViolation
			if errors.As(hookErr, &policy) {
				e.record("error", step.Name, predicted.Digest(), "", 0, "%s", policy)
				rep, _ := e.report(StatusFatal, replans)
				return rep, hookErr
			}
			exitCode := 0
			var failure *gitx.ExternalFailure
			if errors.As(hookErr, &failure) {
				exitCode = failure.Code
			}
			var timeout *gitx.ExternalTimeout
			if errors.As(hookErr, &timeout) {
				e.timedOut[step.Name] = true
			}
			if unrecoverable[step.Name] {
				e.record("error", step.Name, predicted.Digest(), "", exitCode, "unrecoverable action failed: %s", hookErr)
				rep, _ := e.report(StatusFatal, replans)
				return rep, hookErr
			}
			e.record("warn", step.Name, predicted.Digest(), "", exitCode, "action failed, replanning: %s", hookErr)
			queue = nil
			replans++
			if replans > e.Cfg.Planner.MaxReplans {
				return e.report(StatusExhaustedReplans, replans)
			}
			continue
		}

		observed, err := e.observe(ctx)
		if err != nil {
			e.record("error", step.Name, predicted.Digest(), "", 0, "post-action observation failed: %s", err)
			rep, _ := e.report(StatusFatal, replans)
			return rep, err
		}

		if predicted.DriftedFrom(observed) {
			e.record("warn", step.Name, predicted.SafetyDigest(), observed.SafetyDigest(), 0,
				"drift detected, discarding plan tail")
			queue = nil

			// Replans only count against the budget while no progress is
			// made; a shrinking conflict set resets the counter.
			if lastConflicts < 0 || len(observed.Conflicts) >= lastConflicts {
				replans++
			} else {
				replans = 1
			}
			lastConflicts = len(observed.Conflicts)
			if replans > e.Cfg.Planner.MaxReplans {
				return e.report(StatusExhaustedReplans, replans)
			}
			continue
		}

		e.record("info", step.Name, predicted.SafetyDigest(), observed.SafetyDigest(), 0, "action completed as predicted")
		queue = queue[1:]
	}
}

// runHook dispatches one action's execute hook and maintains the carried
// test result for RunTests.
func (e *Executor) runHook(ctx context.Context, name string, s observe.RepoState) error {
	hook, ok := e.Hooks[name]
	if !ok {
		return fmt.Errorf("no execute hook registered for %s", name)
	}
	err := hook(ctx, s)
	if name == "RunTests" {
		if err != nil {
			e.lastTests = observe.TestsFailed
		} else {
			e.lastTests = observe.TestsPassed
		}
	}
	return err
}

// recordRangeDiff annotates the report with how the rewritten history
// relates to the last backup ref, so an operator can audit the run.
func (e *Executor) recordRangeDiff(ctx context.Context) {
	if e.lastBackup == "" {
		return
	}
	res, err := e.Runner.Run(ctx, "range-diff", e.lastBackup+"...HEAD")
	if err != nil {
		return
	}
	lines := 0
	for _, line := range strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n") {
		if line != "" {
			lines++
		}
	}
	e.record("info", "", "", "", 0, "range-diff against %s: %d commit pair(s)", e.lastBackup, lines)
}

func describeRef(s observe.RepoState) string {
	if s.Ref.Upstream == "" {
		return s.Ref.Name
	}
	return fmt.Sprintf("%s (upstream %s, +%d -%d)", s.Ref.Name, s.Ref.Upstream, s.DivergedLocal, s.DivergedRemote)
}
