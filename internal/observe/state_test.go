package observe

import "testing"

func baseState() RepoState {
	return RepoState{
		Root: "/repo",
		Ref: RepoRef{
			Name:     "feature/login",
			Upstream: "origin/feature/login",
			Commit:   "4f92acbd",
		},
		WorkingTreeClean: true,
		TestsLastResult:  TestsUnknown,
	}.Finalized()
}

func TestFinalizedDerivesDifficultyAndRisk(t *testing.T) {
	tests := []struct {
		name           string
		mutate         func(*RepoState)
		wantDifficulty float64
		wantRisk       RiskLevel
	}{
		{
			name:     "quiet repo is low risk",
			mutate:   func(s *RepoState) {},
			wantRisk: RiskLow,
		},
		{
			name: "behind but clean is low risk",
			mutate: func(s *RepoState) {
				s.DivergedRemote = 3
			},
			wantRisk: RiskLow,
		},
		{
			name: "behind with dirty tree is medium",
			mutate: func(s *RepoState) {
				s.DivergedRemote = 3
				s.WorkingTreeClean = false
			},
			wantRisk: RiskMedium,
		},
		{
			name: "conflicted rebase is high",
			mutate: func(s *RepoState) {
				s.OngoingRebase = true
				s.WorkingTreeClean = false
				s.Conflicts = []ConflictDetail{{Path: "a.go", Hunks: 2, Type: ConflictText}}
			},
			wantDifficulty: 2,
			wantRisk:       RiskHigh,
		},
		{
			name: "binary conflict is high regardless",
			mutate: func(s *RepoState) {
				s.WorkingTreeClean = false
				s.Conflicts = []ConflictDetail{{Path: "a.png", Hunks: 1, Type: ConflictBinary}}
			},
			wantDifficulty: 3,
			wantRisk:       RiskHigh,
		},
		{
			name: "trivial hunks do not add difficulty",
			mutate: func(s *RepoState) {
				s.OngoingRebase = true
				s.WorkingTreeClean = false
				s.Conflicts = []ConflictDetail{{Path: "a.go", Hunks: 4, Type: ConflictText, TrivialRatio: 1}}
			},
			wantDifficulty: 0,
			wantRisk:       RiskHigh,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := baseState().With(tt.mutate)
			if s.ConflictDifficulty != tt.wantDifficulty {
				t.Errorf("ConflictDifficulty = %v, want %v", s.ConflictDifficulty, tt.wantDifficulty)
			}
			if s.RiskLevel != tt.wantRisk {
				t.Errorf("RiskLevel = %s, want %s", s.RiskLevel, tt.wantRisk)
			}
		})
	}
}

func TestWithDoesNotMutateOriginal(t *testing.T) {
	orig := baseState().With(func(s *RepoState) {
		s.Conflicts = []ConflictDetail{{Path: "a.go", Hunks: 1, Type: ConflictText}}
		s.WorkingTreeClean = false
	})
	next := orig.With(func(s *RepoState) {
		s.Conflicts = nil
		s.WorkingTreeClean = true
	})
	if len(orig.Conflicts) != 1 || orig.WorkingTreeClean {
		t.Errorf("original state mutated: %+v", orig)
	}
	if len(next.Conflicts) != 0 || !next.WorkingTreeClean {
		t.Errorf("derived state wrong: %+v", next)
	}
	if next.RiskLevel != RiskLow {
		t.Errorf("derived risk not recomputed: %s", next.RiskLevel)
	}
}

func TestDigestStructuralEquality(t *testing.T) {
	a := baseState().With(func(s *RepoState) { s.DivergedRemote = 2 })
	b := baseState().With(func(s *RepoState) { s.DivergedRemote = 2 })
	c := baseState().With(func(s *RepoState) { s.DivergedRemote = 3 })

	if a.Digest() != b.Digest() {
		t.Error("equal states should share a digest")
	}
	if a.Digest() == c.Digest() {
		t.Error("different states should not share a digest")
	}
}

func TestDriftTolerance(t *testing.T) {
	predicted := baseState().With(func(s *RepoState) { s.DivergedRemote = 2 })

	tests := []struct {
		name   string
		mutate func(*RepoState)
		drift  bool
	}{
		{"identical", func(s *RepoState) {}, false},
		{"diverged within tolerance", func(s *RepoState) { s.DivergedRemote = 3 }, false},
		{"diverged beyond tolerance", func(s *RepoState) { s.DivergedRemote = 4 }, true},
		{"new conflict", func(s *RepoState) {
			s.Conflicts = []ConflictDetail{{Path: "a.go", Hunks: 1, Type: ConflictText}}
			s.WorkingTreeClean = false
		}, true},
		{"rebase flag flipped", func(s *RepoState) {
			s.OngoingRebase = true
			s.WorkingTreeClean = false
		}, true},
		{"staleness ignored", func(s *RepoState) { s.StalenessScore = 9 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observed := predicted.With(tt.mutate)
			if got := predicted.DriftedFrom(observed); got != tt.drift {
				t.Errorf("DriftedFrom = %v, want %v", got, tt.drift)
			}
		})
	}
}

func TestCleanTreeImpliesNoConflicts(t *testing.T) {
	// Any status carrying unmerged entries must yield a dirty tree; the
	// observer computes WorkingTreeClean from the same entry lists.
	st, err := ParsePorcelain(sampleStatus, nil)
	if err != nil {
		t.Fatalf("ParsePorcelain: %v", err)
	}
	if len(st.Unmerged) == 0 {
		t.Fatal("fixture should carry an unmerged entry")
	}
	clean := len(st.Changed) == 0 && len(st.Unmerged) == 0 && len(st.Untracked) == 0
	if clean {
		t.Error("status with unmerged entries must not be clean")
	}
}
