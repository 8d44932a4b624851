package plan

import (
	"testing"

	"github.com/re-cinq/mend/internal/config"
	"github.com/re-cinq/mend/internal/observe"
)

func conflictedState(conflicts ...observe.ConflictDetail) observe.RepoState {
	return cleanState().With(func(s *observe.RepoState) {
		s.OngoingRebase = true
		s.WorkingTreeClean = false
		s.Conflicts = conflicts
	})
}

func TestSideRuleMatching(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Strategy.Rules = []config.Rule{
			{Pattern: "**/*.lock", Resolution: "theirs"},
			{Pattern: "docs/**", Resolution: "ours", When: "rebase"},
			{Pattern: "*.json", Resolution: "merge-driver:structural"},
		}
	})

	tests := []struct {
		name      string
		state     observe.RepoState
		wantSide  []string
		wantDrive []string
	}{
		{
			name: "lock rule matches nested path",
			state: conflictedState(
				observe.ConflictDetail{Path: "deps/Cargo.lock", Hunks: 1, Type: observe.ConflictLock},
			),
			wantSide: []string{"deps/Cargo.lock"},
		},
		{
			name: "when=rebase gate honors in-flight state",
			state: conflictedState(
				observe.ConflictDetail{Path: "docs/guide.md", Hunks: 1, Type: observe.ConflictText},
			),
			wantSide: []string{"docs/guide.md"},
		},
		{
			name: "driver rule only covers structured types",
			state: conflictedState(
				observe.ConflictDetail{Path: "settings.json", Hunks: 1, Type: observe.ConflictJSON},
			),
			wantDrive: []string{"settings.json"},
		},
		{
			name: "binary conflicts never match",
			state: conflictedState(
				observe.ConflictDetail{Path: "logo.lock", Hunks: 1, Type: observe.ConflictBinary},
			),
		},
		{
			name: "unmatched path",
			state: conflictedState(
				observe.ConflictDetail{Path: "internal/server.go", Hunks: 2, Type: observe.ConflictText},
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sideRuleMatches(tt.state, cfg); !sameNames(got, tt.wantSide) {
				t.Errorf("sideRuleMatches = %v, want %v", got, tt.wantSide)
			}
			if got := driverRuleMatches(tt.state, cfg); !sameNames(got, tt.wantDrive) {
				t.Errorf("driverRuleMatches = %v, want %v", got, tt.wantDrive)
			}
		})
	}
}

func TestWhenGateOutsideRebase(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Strategy.Rules = []config.Rule{
			{Pattern: "docs/**", Resolution: "ours", When: "rebase"},
		}
	})
	state := cleanState().With(func(s *observe.RepoState) {
		s.WorkingTreeClean = false
		s.Conflicts = []observe.ConflictDetail{
			{Path: "docs/guide.md", Hunks: 1, Type: observe.ConflictText},
		}
	})
	if got := sideRuleMatches(state, cfg); len(got) != 0 {
		t.Errorf("rule gated on rebase matched outside a rebase: %v", got)
	}
}

func TestFirstMatchingRuleWins(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Strategy.Rules = []config.Rule{
			{Pattern: "deps/**", Resolution: "ours"},
			{Pattern: "**/*.lock", Resolution: "theirs"},
		}
	})
	state := conflictedState(
		observe.ConflictDetail{Path: "deps/Cargo.lock", Hunks: 1, Type: observe.ConflictLock},
	)
	rule, ok := RuleFor(state, cfg, "deps/Cargo.lock")
	if !ok || rule.Resolution != "ours" {
		t.Errorf("RuleFor = %+v ok=%v, want first rule (ours)", rule, ok)
	}
}

func TestPredictionsKeepCountersNonNegative(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Strategy.EnableRerere = true
		c.Safety.AllowForcePush = true
		c.Goal.TestsMustPass = true
		c.Strategy.Rules = []config.Rule{{Pattern: "**/*.lock", Resolution: "theirs"}}
	})

	states := []observe.RepoState{
		cleanState(),
		cleanState().With(func(s *observe.RepoState) { s.DivergedRemote = 3; s.StalenessScore = 6 }),
		cleanState().With(func(s *observe.RepoState) { s.WorkingTreeClean = false }),
		conflictedState(
			observe.ConflictDetail{Path: "a/Cargo.lock", Hunks: 2, Type: observe.ConflictLock},
			observe.ConflictDetail{Path: "b.txt", Hunks: 1, Type: observe.ConflictText, TrivialRatio: 1},
		),
		cleanState().With(func(s *observe.RepoState) { s.HasUnpushedCommits = true; s.DivergedLocal = 1 }),
	}

	reg := NewRegistry(nil)
	for _, s := range states {
		for _, a := range reg.Actions() {
			if !a.Applicable(s, cfg) {
				continue
			}
			next := a.Predict(s, cfg)
			if next.DivergedLocal < 0 || next.DivergedRemote < 0 || next.StashEntries < 0 {
				t.Errorf("%s predicted negative counters: %+v", a.Name, next)
			}
			if next.RiskLevel == "" {
				t.Errorf("%s predicted state without derived risk", a.Name)
			}
			if cost := a.Cost(s, cfg); cost < 0 {
				t.Errorf("%s cost = %v, want non-negative", a.Name, cost)
			}
		}
	}
}

func TestRegistryCoversMinimumActionSet(t *testing.T) {
	want := []string{
		"BackupRef", "EnsureClean", "FetchAll", "RebaseOntoUpstream",
		"AutoTrivialResolve", "ApplyPathStrategy", "UseMergeDriver",
		"RebaseContinue", "RebaseAbort", "RunTests", "PushWithLease",
	}
	reg := NewRegistry(nil)
	for _, name := range want {
		if _, ok := reg.Lookup(name); !ok {
			t.Errorf("registry missing %s", name)
		}
	}
	if len(reg.Actions()) != len(want) {
		t.Errorf("registry has %d actions, want %d", len(reg.Actions()), len(want))
	}
}

func TestCostPenaltyAppliesOnlyToNamed(t *testing.T) {
	cfg := testConfig(nil)
	s := cleanState().With(func(s *observe.RepoState) { s.StalenessScore = 6 })
	reg := NewRegistry(nil)
	penalized := reg.WithCostPenalty(map[string]bool{"FetchAll": true}, 20)

	base, _ := reg.Lookup("FetchAll")
	bumped, _ := penalized.Lookup("FetchAll")
	if got, want := bumped.Cost(s, cfg), base.Cost(s, cfg)+20; got != want {
		t.Errorf("penalized FetchAll cost = %v, want %v", got, want)
	}

	other, _ := penalized.Lookup("BackupRef")
	otherBase, _ := reg.Lookup("BackupRef")
	if other.Cost(s, cfg) != otherBase.Cost(s, cfg) {
		t.Error("penalty leaked onto unnamed action")
	}
}

func TestHighRiskRaisesMutatingCosts(t *testing.T) {
	cfg := testConfig(func(c *config.Config) {
		c.Strategy.Rules = []config.Rule{{Pattern: "**/*.lock", Resolution: "theirs"}}
	})
	// Conflicts left unstaged after a completed merge: medium risk.
	calm := cleanState().With(func(s *observe.RepoState) {
		s.WorkingTreeClean = false
		s.Conflicts = []observe.ConflictDetail{
			{Path: "a/Cargo.lock", Hunks: 1, Type: observe.ConflictLock},
		}
	})
	// The same conflicts plus a binary one pushes risk to high.
	risky := calm.With(func(s *observe.RepoState) {
		s.Conflicts = append(s.Conflicts,
			observe.ConflictDetail{Path: "logo.png", Hunks: 1, Type: observe.ConflictBinary})
	})

	action, _ := NewRegistry(nil).Lookup("ApplyPathStrategy")
	if action.Cost(risky, cfg) <= action.Cost(calm, cfg) {
		t.Errorf("high-risk cost %v should exceed calmer cost %v",
			action.Cost(risky, cfg), action.Cost(calm, cfg))
	}
}
