package plan

import (
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/re-cinq/mend/internal/config"
	"github.com/re-cinq/mend/internal/observe"
)

// Base costs for the builtin actions. The heuristic caps in astar.go are
// derived from these; keep them in sync when tuning.
const (
	costBackupRef      = 0.2
	costEnsureClean    = 1.0
	costFetchAll       = 0.5
	costRebase         = 2.0
	costTrivialResolve = 0.5
	costPathStrategy   = 2.0
	costMergeDriver    = 2.5
	costRebaseContinue = 0.5
	costRebaseAbort    = 10.0
	costRunTests       = 5.0
	costPushWithLease  = 2.0
)

// riskMultiplier scales mutating-action costs by the observed risk level.
func riskMultiplier(s observe.RepoState) float64 {
	switch s.RiskLevel {
	case observe.RiskHigh:
		return 1.5
	case observe.RiskMedium:
		return 1.2
	default:
		return 1.0
	}
}

// Action is one declarative edge in the plan graph. Applicable, Predict and
// Cost are pure; the impure execute hook lives on the executor, keyed by
// Name, and the planner never sees it.
type Action struct {
	Name       string
	Params     map[string]string
	Applicable func(s observe.RepoState, cfg *config.Config) bool
	Predict    func(s observe.RepoState, cfg *config.Config) observe.RepoState
	Cost       func(s observe.RepoState, cfg *config.Config) float64
}

// Registry is the immutable, ordered action catalog. Order is significant:
// it is the planner's expansion order and therefore part of determinism.
type Registry struct {
	actions []Action
}

// Actions returns the registered actions in registration order.
func (r *Registry) Actions() []Action {
	return r.actions
}

// WithCostPenalty derives a registry where the named actions carry an
// additional flat cost. Used after a timeout so the next plan prefers
// another route when one exists.
func (r *Registry) WithCostPenalty(names map[string]bool, penalty float64) *Registry {
	if len(names) == 0 {
		return r
	}
	derived := make([]Action, len(r.actions))
	copy(derived, r.actions)
	for i, a := range derived {
		if !names[a.Name] {
			continue
		}
		base := a.Cost
		derived[i].Cost = func(s observe.RepoState, cfg *config.Config) float64 {
			return base(s, cfg) + penalty
		}
	}
	return &Registry{actions: derived}
}

// Lookup finds an action by name.
func (r *Registry) Lookup(name string) (Action, bool) {
	for _, a := range r.actions {
		if a.Name == name {
			return a, true
		}
	}
	return Action{}, false
}

// NewRegistry builds the builtin action catalog. preview is the conflict
// set a rebase is predicted to produce, captured from a merge-tree preview
// at observation time so every Predict stays pure.
func NewRegistry(preview []observe.ConflictDetail) *Registry {
	return &Registry{actions: []Action{
		backupRef(),
		ensureClean(),
		fetchAll(),
		rebaseOntoUpstream(preview),
		autoTrivialResolve(),
		applyPathStrategy(),
		useMergeDriver(),
		rebaseContinue(),
		rebaseAbort(),
		runTests(),
		pushWithLease(),
	}}
}

func backupRef() Action {
	return Action{
		Name: "BackupRef",
		Applicable: func(s observe.RepoState, _ *config.Config) bool {
			return !s.HasBackupRef
		},
		Predict: func(s observe.RepoState, _ *config.Config) observe.RepoState {
			return s.With(func(n *observe.RepoState) { n.HasBackupRef = true })
		},
		Cost: func(observe.RepoState, *config.Config) float64 { return costBackupRef },
	}
}

func ensureClean() Action {
	return Action{
		Name: "EnsureClean",
		Applicable: func(s observe.RepoState, _ *config.Config) bool {
			return !s.WorkingTreeClean && len(s.Conflicts) == 0 && !s.OngoingRebase && !s.OngoingMerge
		},
		Predict: func(s observe.RepoState, _ *config.Config) observe.RepoState {
			return s.With(func(n *observe.RepoState) {
				n.WorkingTreeClean = true
				n.StagedChanges = false
				n.StashEntries++
			})
		},
		Cost: func(s observe.RepoState, _ *config.Config) float64 {
			return costEnsureClean * riskMultiplier(s)
		},
	}
}

func fetchAll() Action {
	return Action{
		Name: "FetchAll",
		Applicable: func(s observe.RepoState, _ *config.Config) bool {
			return !s.FreshlyFetched()
		},
		Predict: func(s observe.RepoState, _ *config.Config) observe.RepoState {
			return s.With(func(n *observe.RepoState) { n.StalenessScore = 0 })
		},
		Cost: func(s observe.RepoState, _ *config.Config) float64 {
			return costFetchAll + 0.1*s.StalenessScore
		},
	}
}

func rebaseOntoUpstream(preview []observe.ConflictDetail) Action {
	predicted := append([]observe.ConflictDetail(nil), preview...)
	return Action{
		Name: "RebaseOntoUpstream",
		Applicable: func(s observe.RepoState, _ *config.Config) bool {
			return s.DivergedRemote > 0 && !s.OngoingRebase && !s.OngoingMerge &&
				s.WorkingTreeClean && s.HasBackupRef && s.FreshlyFetched()
		},
		Predict: func(s observe.RepoState, _ *config.Config) observe.RepoState {
			return s.With(func(n *observe.RepoState) {
				n.OngoingRebase = true
				n.Conflicts = append([]observe.ConflictDetail(nil), predicted...)
				n.WorkingTreeClean = len(predicted) == 0
				n.StagedChanges = false
			})
		},
		Cost: func(s observe.RepoState, _ *config.Config) float64 {
			difficulty := 0.0
			for _, c := range predicted {
				difficulty += float64(c.Hunks) * (1 - c.TrivialRatio)
			}
			return (costRebase + 0.5*difficulty) * riskMultiplier(s)
		},
	}
}

func autoTrivialResolve() Action {
	return Action{
		Name: "AutoTrivialResolve",
		Applicable: func(s observe.RepoState, cfg *config.Config) bool {
			if !s.OngoingRebase || len(s.Conflicts) == 0 || !cfg.Strategy.EnableRerere {
				return false
			}
			return len(trivialConflicts(s)) > 0
		},
		Predict: func(s observe.RepoState, _ *config.Config) observe.RepoState {
			return s.With(func(n *observe.RepoState) {
				n.Conflicts = withoutPaths(n.Conflicts, trivialConflicts(s))
			})
		},
		Cost: func(s observe.RepoState, _ *config.Config) float64 {
			hunks := 0
			for _, c := range s.Conflicts {
				if c.TrivialRatio >= 1 {
					hunks += c.Hunks
				}
			}
			return costTrivialResolve + 0.1*float64(hunks)
		},
	}
}

func applyPathStrategy() Action {
	return Action{
		Name: "ApplyPathStrategy",
		Applicable: func(s observe.RepoState, cfg *config.Config) bool {
			return len(sideRuleMatches(s, cfg)) > 0
		},
		Predict: func(s observe.RepoState, cfg *config.Config) observe.RepoState {
			return s.With(func(n *observe.RepoState) {
				n.Conflicts = withoutPaths(n.Conflicts, sideRuleMatches(s, cfg))
			})
		},
		Cost: func(s observe.RepoState, _ *config.Config) float64 {
			return costPathStrategy * riskMultiplier(s)
		},
	}
}

func useMergeDriver() Action {
	return Action{
		Name: "UseMergeDriver",
		Applicable: func(s observe.RepoState, cfg *config.Config) bool {
			return len(driverRuleMatches(s, cfg)) > 0
		},
		Predict: func(s observe.RepoState, cfg *config.Config) observe.RepoState {
			return s.With(func(n *observe.RepoState) {
				n.Conflicts = withoutPaths(n.Conflicts, driverRuleMatches(s, cfg))
			})
		},
		Cost: func(s observe.RepoState, _ *config.Config) float64 {
			return costMergeDriver * riskMultiplier(s)
		},
	}
}

func rebaseContinue() Action {
	return Action{
		Name: "RebaseContinue",
		Applicable: func(s observe.RepoState, _ *config.Config) bool {
			return s.OngoingRebase && len(s.Conflicts) == 0
		},
		Predict: func(s observe.RepoState, _ *config.Config) observe.RepoState {
			return s.With(func(n *observe.RepoState) {
				n.OngoingRebase = false
				n.DivergedRemote = 0
				n.WorkingTreeClean = true
				n.StagedChanges = false
				n.HasUnpushedCommits = true
				// Rewritten commits invalidate the old backup point.
				n.HasBackupRef = false
			})
		},
		Cost: func(observe.RepoState, *config.Config) float64 { return costRebaseContinue },
	}
}

func rebaseAbort() Action {
	return Action{
		Name: "RebaseAbort",
		Applicable: func(s observe.RepoState, cfg *config.Config) bool {
			// Last resort: an in-flight rebase whose remaining conflicts no
			// rule, driver, or trivial resolution can touch.
			if !s.OngoingRebase || len(s.Conflicts) == 0 {
				return false
			}
			resolvable := len(trivialConflicts(s)) + len(sideRuleMatches(s, cfg)) + len(driverRuleMatches(s, cfg))
			return resolvable == 0
		},
		Predict: func(s observe.RepoState, _ *config.Config) observe.RepoState {
			return s.With(func(n *observe.RepoState) {
				n.OngoingRebase = false
				n.Conflicts = nil
				n.WorkingTreeClean = true
				n.StagedChanges = false
				if n.DivergedRemote == 0 {
					n.DivergedRemote = 1
				}
			})
		},
		Cost: func(observe.RepoState, *config.Config) float64 { return costRebaseAbort },
	}
}

func runTests() Action {
	return Action{
		Name: "RunTests",
		Applicable: func(s observe.RepoState, cfg *config.Config) bool {
			return cfg.Goal.TestsMustPass && s.WorkingTreeClean &&
				!s.OngoingRebase && !s.OngoingMerge &&
				s.TestsLastResult != observe.TestsPassed
		},
		Predict: func(s observe.RepoState, _ *config.Config) observe.RepoState {
			return s.With(func(n *observe.RepoState) { n.TestsLastResult = observe.TestsPassed })
		},
		Cost: func(s observe.RepoState, cfg *config.Config) float64 {
			return costRunTests + float64(cfg.Safety.MaxTestRuntimeSec)/600
		},
	}
}

func pushWithLease() Action {
	return Action{
		Name: "PushWithLease",
		Applicable: func(s observe.RepoState, cfg *config.Config) bool {
			return s.HasUnpushedCommits && cfg.Safety.AllowForcePush &&
				!s.OngoingRebase && !s.OngoingMerge && s.WorkingTreeClean &&
				s.DivergedRemote == 0
		},
		Predict: func(s observe.RepoState, _ *config.Config) observe.RepoState {
			return s.With(func(n *observe.RepoState) {
				n.HasUnpushedCommits = false
				n.DivergedLocal = 0
			})
		},
		Cost: func(s observe.RepoState, _ *config.Config) float64 {
			return costPushWithLease * riskMultiplier(s)
		},
	}
}

// trivialConflicts returns the paths of conflicts whose every hunk is
// whitespace-trivial; those are the ones rerere-style replay can clear.
func trivialConflicts(s observe.RepoState) []string {
	var paths []string
	for _, c := range s.Conflicts {
		if c.TrivialRatio >= 1 && c.Type != observe.ConflictBinary {
			paths = append(paths, c.Path)
		}
	}
	return paths
}

// sideRuleMatches returns conflict paths covered by an ours/theirs rule
// whose `when` gate matches the current state. First matching rule wins.
func sideRuleMatches(s observe.RepoState, cfg *config.Config) []string {
	return ruleMatches(s, cfg, func(rule config.Rule) bool {
		return rule.Resolution == "ours" || rule.Resolution == "theirs"
	})
}

// driverRuleMatches returns json/yaml conflict paths covered by a
// merge-driver rule.
func driverRuleMatches(s observe.RepoState, cfg *config.Config) []string {
	return ruleMatches(s, cfg, func(rule config.Rule) bool {
		return config.MergeDriverFor(rule.Resolution) != ""
	})
}

func ruleMatches(s observe.RepoState, cfg *config.Config, want func(config.Rule) bool) []string {
	var paths []string
	for _, c := range s.Conflicts {
		if c.Type == observe.ConflictBinary {
			continue
		}
		rule, ok := firstRuleFor(s, cfg, c.Path)
		if !ok || !want(rule) {
			continue
		}
		if config.MergeDriverFor(rule.Resolution) != "" &&
			c.Type != observe.ConflictJSON && c.Type != observe.ConflictYAML {
			continue
		}
		paths = append(paths, c.Path)
	}
	return paths
}

// firstRuleFor resolves the first configured rule matching a path, honoring
// the optional `when` gate (rebase / merge).
func firstRuleFor(s observe.RepoState, cfg *config.Config, path string) (config.Rule, bool) {
	for _, rule := range cfg.Strategy.Rules {
		switch rule.When {
		case "", "always":
		case "rebase":
			if !s.OngoingRebase {
				continue
			}
		case "merge":
			if !s.OngoingMerge {
				continue
			}
		default:
			continue
		}
		matcher := ignore.CompileIgnoreLines(rule.Pattern)
		if matcher.MatchesPath(path) {
			return rule, true
		}
	}
	return config.Rule{}, false
}

// withoutPaths filters conflicts, dropping the listed paths.
func withoutPaths(conflicts []observe.ConflictDetail, drop []string) []observe.ConflictDetail {
	dropSet := make(map[string]bool, len(drop))
	for _, p := range drop {
		dropSet[p] = true
	}
	var kept []observe.ConflictDetail
	for _, c := range conflicts {
		if !dropSet[c.Path] {
			kept = append(kept, c)
		}
	}
	return kept
}

// RuleFor exposes the first matching rule for an executor hook that needs
// to know which side to take for a path.
func RuleFor(s observe.RepoState, cfg *config.Config, path string) (config.Rule, bool) {
	return firstRuleFor(s, cfg, path)
}

// DescribeParams renders an action's parameter map deterministically.
func DescribeParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(k + "=" + params[k])
	}
	return b.String()
}
