package observe

import (
	"context"
	"errors"
	"strings"

	"github.com/re-cinq/mend/internal/gitx"
)

// MergePreview is the outcome of a non-destructive three-way merge between
// two commit-ish inputs.
type MergePreview struct {
	// TreeID is the written tree object when the merge-tree output carried
	// one. Unused by the planner but exposed for caching.
	TreeID string
	// ConflictPaths are the paths merge-tree reports as conflicted, in
	// output order.
	ConflictPaths []string
}

// Clean reports whether the preview found no conflicts.
func (p MergePreview) Clean() bool {
	return len(p.ConflictPaths) == 0
}

// PreviewMerge runs `git merge-tree --write-tree --name-only` between two
// commit-ish inputs. The command never touches the working tree or index;
// exit status 1 is not a failure, it is how merge-tree reports conflicts.
func PreviewMerge(ctx context.Context, r *gitx.Runner, ours, theirs string) (MergePreview, error) {
	res, err := r.Run(ctx, "merge-tree", "--write-tree", "--name-only", ours, theirs)
	if err != nil {
		var failure *gitx.ExternalFailure
		if !errors.As(err, &failure) || failure.Code != 1 {
			return MergePreview{}, err
		}
	}

	// Output: the written tree OID on the first line, then (on conflict)
	// one conflicted filename per line until a blank line or EOF.
	var preview MergePreview
	for i, line := range strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n") {
		if i == 0 {
			preview.TreeID = strings.TrimSpace(line)
			continue
		}
		if line == "" {
			break
		}
		preview.ConflictPaths = append(preview.ConflictPaths, line)
	}
	if preview.TreeID == "" {
		return MergePreview{}, &ParseError{Source: "merge-tree --write-tree", Detail: "missing tree id in output"}
	}
	return preview, nil
}
