package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Goal modes, ordered: each mode implies everything the previous one does.
const (
	ModeResolveOnly      = "resolve_only"
	ModeRebaseToUpstream = "rebase_to_upstream"
	ModePushWithLease    = "push_with_lease"
)

// Conflict styles accepted for strategy.conflict_style.
var conflictStyles = map[string]bool{
	"merge":  true,
	"diff3":  true,
	"zdiff3": true,
}

// Config is the frozen configuration value. It is constructed once by Load,
// validated, and passed by shared pointer; no subsystem mutates it.
type Config struct {
	Goal     Goal     `toml:"goal"`
	Strategy Strategy `toml:"strategy"`
	Safety   Safety   `toml:"safety"`
	Planner  Planner  `toml:"planner"`
	Timeouts Timeouts `toml:"timeouts"`
	Tests    Tests    `toml:"tests"`
}

type Goal struct {
	Mode          string `toml:"mode"`
	TestsMustPass bool   `toml:"tests_must_pass"`
	PushWithLease bool   `toml:"push_with_lease"`
}

type Strategy struct {
	EnableRerere  bool   `toml:"enable_rerere"`
	ConflictStyle string `toml:"conflict_style"`
	Rules         []Rule `toml:"rules"`
}

// Rule maps a repository-relative glob to a conflict resolution.
// Resolution is "ours", "theirs", or "merge-driver:<name>".
type Rule struct {
	Pattern    string `toml:"pattern"`
	Resolution string `toml:"resolution"`
	When       string `toml:"when,omitempty"`
}

type Safety struct {
	DryRun            bool `toml:"dry_run"`
	AllowForcePush    bool `toml:"allow_force_push"`
	MaxTestRuntimeSec int  `toml:"max_test_runtime_sec"`
}

// Planner carries the heuristic coefficients and search bounds. The planner
// clamps coefficients again at plan time to preserve admissibility; values
// here only need to be non-negative.
type Planner struct {
	Alpha   float64 `toml:"alpha"`
	Beta    float64 `toml:"beta"`
	Gamma   float64 `toml:"gamma"`
	Delta   float64 `toml:"delta"`
	Epsilon float64 `toml:"epsilon"`
	Zeta    float64 `toml:"zeta"`

	MaxExpansions int `toml:"max_expansions"`
	MaxPlanLength int `toml:"max_plan_length"`
	MaxReplans    int `toml:"max_replans"`
}

type Timeouts struct {
	ObserveSec int `toml:"observe_sec"`
	MutateSec  int `toml:"mutate_sec"`
}

type Tests struct {
	Command string `toml:"command"`
}

// Load reads and parses a TOML config file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parsing TOML: unknown keys: %s", strings.Join(keys, ", "))
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Goal.Mode == "" {
		cfg.Goal.Mode = ModeRebaseToUpstream
	}
	if cfg.Strategy.ConflictStyle == "" {
		cfg.Strategy.ConflictStyle = "zdiff3"
	}
	if cfg.Safety.MaxTestRuntimeSec == 0 {
		cfg.Safety.MaxTestRuntimeSec = 600
	}

	// Conservative heuristic defaults: each coefficient sits below the
	// cheapest single action that reduces its dimension, so the heuristic
	// stays admissible even before the planner's clamp.
	p := &cfg.Planner
	if p.Alpha == 0 {
		p.Alpha = 0.5
	}
	if p.Beta == 0 {
		p.Beta = 0.2
	}
	if p.Gamma == 0 {
		p.Gamma = 0.5
	}
	if p.Delta == 0 {
		p.Delta = 0.1
	}
	if p.Epsilon == 0 {
		p.Epsilon = 1.0
	}
	if p.Zeta == 0 {
		p.Zeta = 1.0
	}
	if p.MaxExpansions == 0 {
		p.MaxExpansions = 5000
	}
	if p.MaxPlanLength == 0 {
		p.MaxPlanLength = 32
	}
	if p.MaxReplans == 0 {
		p.MaxReplans = 3
	}

	if cfg.Timeouts.ObserveSec == 0 {
		cfg.Timeouts.ObserveSec = 30
	}
	if cfg.Timeouts.MutateSec == 0 {
		cfg.Timeouts.MutateSec = 120
	}
	if cfg.Tests.Command == "" {
		cfg.Tests.Command = "go test ./..."
	}
}

// Validate checks a parsed config, returning every problem found.
func Validate(cfg *Config) []error {
	var errs []error

	switch cfg.Goal.Mode {
	case ModeResolveOnly, ModeRebaseToUpstream, ModePushWithLease:
	default:
		errs = append(errs, fmt.Errorf("goal.mode: unknown mode %q", cfg.Goal.Mode))
	}

	if !conflictStyles[cfg.Strategy.ConflictStyle] {
		errs = append(errs, fmt.Errorf("strategy.conflict_style: unknown style %q", cfg.Strategy.ConflictStyle))
	}

	for i, rule := range cfg.Strategy.Rules {
		if rule.Pattern == "" {
			errs = append(errs, fmt.Errorf("strategy.rules[%d]: pattern is required", i))
		}
		if !validResolution(rule.Resolution) {
			errs = append(errs, fmt.Errorf("strategy.rules[%d] (%s): invalid resolution %q", i, rule.Pattern, rule.Resolution))
		}
	}

	for _, coeff := range []struct {
		name  string
		value float64
	}{
		{"alpha", cfg.Planner.Alpha}, {"beta", cfg.Planner.Beta}, {"gamma", cfg.Planner.Gamma},
		{"delta", cfg.Planner.Delta}, {"epsilon", cfg.Planner.Epsilon}, {"zeta", cfg.Planner.Zeta},
	} {
		if coeff.value < 0 {
			errs = append(errs, fmt.Errorf("planner.%s: must be non-negative, got %g", coeff.name, coeff.value))
		}
	}
	if cfg.Planner.MaxExpansions < 1 {
		errs = append(errs, fmt.Errorf("planner.max_expansions: must be positive"))
	}
	if cfg.Planner.MaxPlanLength < 1 {
		errs = append(errs, fmt.Errorf("planner.max_plan_length: must be positive"))
	}
	if cfg.Planner.MaxReplans < 0 {
		errs = append(errs, fmt.Errorf("planner.max_replans: must be non-negative"))
	}

	if cfg.Goal.PushWithLease && !cfg.Safety.AllowForcePush {
		// Legal to configure, but every push goal becomes unreachable:
		// the planner refuses to emit PushWithLease without the override.
		errs = append(errs, fmt.Errorf("goal.push_with_lease requires safety.allow_force_push"))
	}

	return errs
}

func validResolution(res string) bool {
	if res == "ours" || res == "theirs" {
		return true
	}
	return strings.HasPrefix(res, "merge-driver:") && len(res) > len("merge-driver:")
}

// MergeDriverFor returns the configured merge driver name for a rule
// resolution, or "" when the resolution picks a side instead.
func MergeDriverFor(resolution string) string {
	if !strings.HasPrefix(resolution, "merge-driver:") {
		return ""
	}
	return strings.TrimPrefix(resolution, "merge-driver:")
}
