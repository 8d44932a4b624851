package gitx

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// MinGitVersion is the oldest git release mend supports. merge-tree
// --write-tree and zdiff3 conflict markers both require a modern git.
var MinGitVersion = semver.MustParse("2.40.0")

var versionRe = regexp.MustCompile(`git version (\d+\.\d+(?:\.\d+)?)`)

// CheckVersion verifies the host git binary exists and is recent enough.
// Any failure here is an EnvironmentMissing: the tool cannot run at all.
func (r *Runner) CheckVersion(ctx context.Context) error {
	res, err := r.Run(ctx, "--version")
	if err != nil {
		return &EnvironmentMissing{Detail: err.Error()}
	}
	m := versionRe.FindStringSubmatch(strings.TrimSpace(res.Stdout))
	if m == nil {
		return &EnvironmentMissing{Detail: fmt.Sprintf("unrecognized git version output %q", strings.TrimSpace(res.Stdout))}
	}
	v, err := semver.NewVersion(m[1])
	if err != nil {
		return &EnvironmentMissing{Detail: fmt.Sprintf("parsing git version %q: %s", m[1], err)}
	}
	if v.LessThan(MinGitVersion) {
		return &EnvironmentMissing{Detail: fmt.Sprintf("git %s is too old, need %s or newer", v, MinGitVersion)}
	}
	return nil
}
