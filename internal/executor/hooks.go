package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"gopkg.in/yaml.v3"

	"github.com/re-cinq/mend/internal/config"
	"github.com/re-cinq/mend/internal/gitx"
	"github.com/re-cinq/mend/internal/observe"
	"github.com/re-cinq/mend/internal/plan"
)

// Hook turns one planned action into subprocess invocations. Hooks are the
// impure half of an action; the planner never sees them.
type Hook func(ctx context.Context, s observe.RepoState) error

// nowFunc is the clock used for backup ref names. Replaced in tests.
var nowFunc = time.Now

// unrecoverable actions terminate the execution on failure instead of
// triggering a replan.
var unrecoverable = map[string]bool{
	"PushWithLease": true,
	"RebaseAbort":   true,
}

// NewHooks wires the builtin actions' execute hooks to a runner and config.
// onBackup, when non-nil, receives the name of each backup ref created so
// the executor can annotate its report against it.
func NewHooks(r *gitx.Runner, cfg *config.Config, onBackup func(ref string)) map[string]Hook {
	return map[string]Hook{
		"BackupRef": func(ctx context.Context, s observe.RepoState) error {
			ref := fmt.Sprintf("refs/backup/mend/%d", nowFunc().Unix())
			if _, err := r.Run(ctx, "update-ref", ref, "HEAD"); err != nil {
				return err
			}
			if onBackup != nil {
				onBackup(ref)
			}
			return nil
		},
		"EnsureClean": func(ctx context.Context, s observe.RepoState) error {
			_, err := r.Run(ctx, "stash", "push", "--include-untracked")
			return err
		},
		"FetchAll": func(ctx context.Context, s observe.RepoState) error {
			_, err := r.Run(ctx, "fetch", "--prune", "--tags")
			return err
		},
		"RebaseOntoUpstream": func(ctx context.Context, s observe.RepoState) error {
			upstream := s.Ref.Upstream
			if upstream == "" {
				return fmt.Errorf("no upstream tracking ref for %s", s.Ref.Name)
			}
			_, err := r.Run(ctx, "rebase", "--update-refs", upstream)
			// Exit 1 means the rebase stopped on conflicts. That is an
			// expected intermediate state, not a failed action; the next
			// observation reports the conflict set.
			var failure *gitx.ExternalFailure
			if errors.As(err, &failure) && failure.Code == 1 {
				return nil
			}
			return err
		},
		"AutoTrivialResolve": func(ctx context.Context, s observe.RepoState) error {
			return resolvePaths(ctx, r, "--theirs", trivialPaths(s))
		},
		"ApplyPathStrategy": func(ctx context.Context, s observe.RepoState) error {
			ours, theirs := pathsBySide(s, cfg)
			if err := resolvePaths(ctx, r, "--ours", ours); err != nil {
				return err
			}
			return resolvePaths(ctx, r, "--theirs", theirs)
		},
		"UseMergeDriver": mergeDriverHook(r, cfg),
		"RebaseContinue": func(ctx context.Context, s observe.RepoState) error {
			_, err := r.Run(ctx, "rebase", "--continue")
			// A conflict-free rebase already ran to completion; nothing
			// left to continue is success, not failure.
			var failure *gitx.ExternalFailure
			if errors.As(err, &failure) && strings.Contains(failure.Stderr, "no rebase in progress") {
				return nil
			}
			return err
		},
		"RebaseAbort": func(ctx context.Context, s observe.RepoState) error {
			_, err := r.Run(ctx, "rebase", "--abort")
			return err
		},
		"RunTests":      runTestsHook(r, cfg),
		"PushWithLease": pushHook(r, cfg),
	}
}

// trivialPaths mirrors the planner's notion of fully-trivial conflicts.
func trivialPaths(s observe.RepoState) []string {
	var paths []string
	for _, c := range s.Conflicts {
		if c.TrivialRatio >= 1 && c.Type != observe.ConflictBinary {
			paths = append(paths, c.Path)
		}
	}
	return paths
}

// pathsBySide splits rule-covered conflicts by which side the rule takes.
func pathsBySide(s observe.RepoState, cfg *config.Config) (ours, theirs []string) {
	for _, c := range s.Conflicts {
		rule, ok := plan.RuleFor(s, cfg, c.Path)
		if !ok {
			continue
		}
		switch rule.Resolution {
		case "ours":
			ours = append(ours, c.Path)
		case "theirs":
			theirs = append(theirs, c.Path)
		}
	}
	return ours, theirs
}

// resolvePaths takes one side for each path and stages the result. Path
// arguments always follow the -- separator.
func resolvePaths(ctx context.Context, r *gitx.Runner, side string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"checkout", side, "--"}, paths...)
	if _, err := r.Run(ctx, args...); err != nil {
		return err
	}
	_, err := r.Run(ctx, append([]string{"add", "--"}, paths...)...)
	return err
}

// mergeDriverHook resolves json/yaml conflicts by taking a side and only
// accepting the result when it still parses as its declared format. This is
// the structural "merge driver": no content is invented, a side that fails
// to parse is rejected.
func mergeDriverHook(r *gitx.Runner, cfg *config.Config) Hook {
	return func(ctx context.Context, s observe.RepoState) error {
		for _, c := range s.Conflicts {
			if c.Type != observe.ConflictJSON && c.Type != observe.ConflictYAML {
				continue
			}
			rule, ok := plan.RuleFor(s, cfg, c.Path)
			if !ok || config.MergeDriverFor(rule.Resolution) == "" {
				continue
			}
			if err := resolveStructured(ctx, r, c); err != nil {
				return err
			}
		}
		return nil
	}
}

func resolveStructured(ctx context.Context, r *gitx.Runner, c observe.ConflictDetail) error {
	for _, side := range []string{"--theirs", "--ours"} {
		if err := resolvePaths(ctx, r, side, []string{c.Path}); err != nil {
			return err
		}
		if r.DryRun {
			return nil
		}
		content, err := os.ReadFile(filepath.Join(r.Dir, c.Path))
		if err != nil {
			return err
		}
		if structurallyValid(c.Type, content) {
			return nil
		}
	}
	return fmt.Errorf("merge driver: neither side of %s parses as %s", c.Path, c.Type)
}

func structurallyValid(kind observe.ConflictType, content []byte) bool {
	switch kind {
	case observe.ConflictJSON:
		return json.Valid(content)
	case observe.ConflictYAML:
		var out any
		return yaml.Unmarshal(content, &out) == nil
	}
	return false
}

// TestLogPath is where the streamed test output lands.
func TestLogPath() string {
	return filepath.Join(os.TempDir(), "mend-tests.log")
}

// runTestsHook runs the configured test command under a pseudo-terminal so
// its output stays line-buffered and can be tailed from the log file while
// the suite runs. Bounded by safety.max_test_runtime_sec.
func runTestsHook(r *gitx.Runner, cfg *config.Config) Hook {
	return func(ctx context.Context, s observe.RepoState) error {
		if r.DryRun {
			return nil
		}

		logFile, err := os.OpenFile(TestLogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("opening test log: %w", err)
		}
		defer logFile.Close()

		timeout := time.Duration(cfg.Safety.MaxTestRuntimeSec) * time.Second
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		fmt.Fprintf(logFile, "--- %s: %s ---\n", nowFunc().UTC().Format(time.RFC3339), cfg.Tests.Command)

		cmd := exec.CommandContext(cctx, "sh", "-c", cfg.Tests.Command)
		cmd.Dir = r.Dir

		ptmx, pts, err := pty.Open()
		if err != nil {
			return fmt.Errorf("opening pty: %w", err)
		}
		defer ptmx.Close()

		cmd.Stdout = pts
		cmd.Stderr = pts

		if err := cmd.Start(); err != nil {
			pts.Close()
			return fmt.Errorf("starting tests: %w", err)
		}
		pts.Close() // close slave in parent; child inherited it

		// Copy PTY output to the log file; ignore EIO at process exit.
		if _, err := io.Copy(logFile, ptmx); err != nil {
			var pathErr *os.PathError
			if !(errors.As(err, &pathErr) && pathErr.Err == syscall.EIO) {
				return fmt.Errorf("reading test output: %w", err)
			}
		}

		if err := cmd.Wait(); err != nil {
			if cctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("tests exceeded %s", timeout)
			}
			return fmt.Errorf("tests failed: %w", err)
		}
		return nil
	}
}

func pushHook(r *gitx.Runner, cfg *config.Config) Hook {
	return func(ctx context.Context, s observe.RepoState) error {
		if !cfg.Safety.AllowForcePush {
			return &PolicyViolation{Rule: "push with lease requires safety.allow_force_push"}
		}
		_, err := r.Run(ctx, "push", "--force-with-lease")
		return err
	}
}
