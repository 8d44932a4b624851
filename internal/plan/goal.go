package plan

import (
	"github.com/re-cinq/mend/internal/config"
	"github.com/re-cinq/mend/internal/observe"
)

// Goal is the goal predicate the planner searches toward.
type Goal struct {
	Mode          string
	TestsMustPass bool
	PushWithLease bool
}

// GoalFromConfig builds the goal predicate from the frozen config.
func GoalFromConfig(cfg *config.Config) Goal {
	return Goal{
		Mode:          cfg.Goal.Mode,
		TestsMustPass: cfg.Goal.TestsMustPass,
		PushWithLease: cfg.Goal.PushWithLease,
	}
}

// requiresRebase reports whether the mode is at least rebase_to_upstream.
func (g Goal) requiresRebase() bool {
	return g.Mode == config.ModeRebaseToUpstream || g.Mode == config.ModePushWithLease
}

// requiresPush reports whether the goal demands all commits pushed.
func (g Goal) requiresPush() bool {
	return g.PushWithLease || g.Mode == config.ModePushWithLease
}

// Satisfied evaluates the goal predicate on a state.
func (g Goal) Satisfied(s observe.RepoState) bool {
	if len(s.Conflicts) > 0 || s.OngoingRebase || s.OngoingMerge {
		return false
	}
	if !s.WorkingTreeClean || s.StagedChanges {
		return false
	}
	if g.requiresRebase() && s.DivergedRemote != 0 {
		return false
	}
	if g.TestsMustPass && s.TestsLastResult != observe.TestsPassed {
		return false
	}
	if g.requiresPush() && s.HasUnpushedCommits {
		return false
	}
	return true
}
