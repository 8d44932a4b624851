package observe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/re-cinq/mend/internal/gitx"
)

// nowFunc is the clock used for staleness scoring.
// Replaced in tests for determinism.
var nowFunc = time.Now

// Options tunes a single observation.
type Options struct {
	// TestsLastResult is carried forward by the executor between
	// iterations; nothing on disk records a past test run.
	TestsLastResult TestResult
	// Warn receives non-fatal parse warnings. Optional.
	Warn func(string)
}

// Observe materializes a RepoState snapshot for the repository the runner
// points at. The composition is fixed: read status, parse each conflicted
// file, read the stash count, compute derived scores, freeze. Given a quiet
// repository on disk, Observe is referentially transparent.
func Observe(ctx context.Context, r *gitx.Runner, opts Options) (RepoState, error) {
	res, err := r.Run(ctx, "status", "--porcelain=v2", "--branch", "--ahead-behind")
	if err != nil {
		return RepoState{}, fmt.Errorf("reading status: %w", err)
	}
	status, err := ParsePorcelain(res.Stdout, opts.Warn)
	if err != nil {
		// Retry once with a fresh invocation; porcelain output can be
		// clipped when another process mutates the index mid-read.
		res, rerr := r.Run(ctx, "status", "--porcelain=v2", "--branch", "--ahead-behind")
		if rerr != nil {
			return RepoState{}, err
		}
		status, rerr = ParsePorcelain(res.Stdout, opts.Warn)
		if rerr != nil {
			return RepoState{}, rerr
		}
	}

	gitDir, err := resolveGitDir(ctx, r)
	if err != nil {
		return RepoState{}, err
	}

	conflicts, err := parseConflicts(r.Dir, status.Unmerged)
	if err != nil {
		return RepoState{}, err
	}

	stashes, err := stashCount(ctx, r)
	if err != nil {
		return RepoState{}, err
	}

	backup, err := hasBackupRef(ctx, r, status.Commit)
	if err != nil {
		return RepoState{}, err
	}

	state := RepoState{
		Root: r.Dir,
		Ref: RepoRef{
			Name:     status.Branch,
			Upstream: status.Upstream,
			Commit:   status.Commit,
		},
		DivergedLocal:      status.Ahead,
		DivergedRemote:     status.Behind,
		WorkingTreeClean:   len(status.Changed) == 0 && len(status.Unmerged) == 0 && len(status.Untracked) == 0,
		StagedChanges:      hasStagedChanges(status.Changed),
		OngoingRebase:      dirExists(filepath.Join(gitDir, "rebase-merge")) || dirExists(filepath.Join(gitDir, "rebase-apply")),
		OngoingMerge:       fileExists(filepath.Join(gitDir, "MERGE_HEAD")),
		StashEntries:       stashes,
		Conflicts:          conflicts,
		TestsLastResult:    opts.TestsLastResult,
		HasUnpushedCommits: status.Ahead > 0,
		HasBackupRef:       backup,
		StalenessScore:     staleness(status.Behind, gitDir),
	}
	return state.Finalized(), nil
}

func resolveGitDir(ctx context.Context, r *gitx.Runner) (string, error) {
	res, err := r.Run(ctx, "rev-parse", "--git-dir")
	if err != nil {
		return "", fmt.Errorf("resolving git dir: %w", err)
	}
	dir := strings.TrimSpace(res.Stdout)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(r.Dir, dir)
	}
	return dir, nil
}

func parseConflicts(root string, unmerged []StatusEntry) ([]ConflictDetail, error) {
	var conflicts []ConflictDetail
	for _, entry := range unmerged {
		content, err := os.ReadFile(filepath.Join(root, entry.Path))
		if err != nil {
			// Deleted-by-us/them conflicts have no working copy to scan.
			conflicts = append(conflicts, ConflictDetail{Path: entry.Path, Hunks: 1, Type: ConflictText})
			continue
		}
		detail, err := ParseConflict(entry.Path, content)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, detail)
	}
	return conflicts, nil
}

func stashCount(ctx context.Context, r *gitx.Runner) (int, error) {
	res, err := r.Run(ctx, "stash", "list")
	if err != nil {
		return 0, fmt.Errorf("reading stash list: %w", err)
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		return 0, nil
	}
	return len(strings.Split(out, "\n")), nil
}

// hasBackupRef checks for a refs/backup/mend/* ref pointing at the current
// branch commit. show-ref exits 1 when the namespace is empty; that is an
// answer, not a failure.
func hasBackupRef(ctx context.Context, r *gitx.Runner, commit string) (bool, error) {
	res, err := r.Run(ctx, "show-ref")
	if err != nil {
		var failure *gitx.ExternalFailure
		if errors.As(err, &failure) && failure.Code == 1 {
			return false, nil
		}
		return false, fmt.Errorf("reading refs: %w", err)
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && strings.HasPrefix(fields[1], "refs/backup/mend/") && fields[0] == commit {
			return true, nil
		}
	}
	return false, nil
}

func hasStagedChanges(changed []StatusEntry) bool {
	for _, entry := range changed {
		if len(entry.XY) == 2 && entry.XY[0] != '.' {
			return true
		}
	}
	return false
}

// staleness grows with commits behind upstream and with time since the
// last fetch (FETCH_HEAD mtime). Both terms are monotone; the elapsed-time
// term saturates at one day so one term cannot drown the other.
func staleness(behind int, gitDir string) float64 {
	elapsed := 24 * time.Hour
	if info, err := os.Stat(filepath.Join(gitDir, "FETCH_HEAD")); err == nil {
		elapsed = nowFunc().Sub(info.ModTime())
		if elapsed > 24*time.Hour {
			elapsed = 24 * time.Hour
		}
		if elapsed < 0 {
			elapsed = 0
		}
	}
	return float64(behind)/2 + elapsed.Hours()/6
}

// FreshlyFetched reports whether the staleness score is explained by the
// behind count alone, i.e. the last fetch is recent. Actions that need
// up-to-date remote knowledge gate on this.
func (s RepoState) FreshlyFetched() bool {
	return s.StalenessScore <= float64(s.DivergedRemote)/2+0.25
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
