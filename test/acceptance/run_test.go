package acceptance_test

import (
	"os"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("run", func() {
	var tmpDir string

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("terminates goal_reached on a quiet repository", func() {
		var repoDir string
		tmpDir, repoDir = setupTestRepo("mend-quiet-*")

		output, code := runMend(repoDir, "run")
		Expect(code).To(Equal(0), "output: %s", output)
		Expect(output).To(ContainSubstring("goal_reached"))
	})

	It("leaves the repository untouched under --dry-run", func() {
		var cloneDir string
		tmpDir, cloneDir = setupDivergedClone("mend-dryrun-*", 3)

		headBefore := runGitOutput(cloneDir, "rev-parse", "HEAD")
		reflogBefore := runGitOutput(cloneDir, "reflog")
		statusBefore := runGitOutput(cloneDir, "status", "--porcelain=v2")

		output, code := runMend(cloneDir, "run", "--dry-run")
		// Suppressed mutations mean predictions never materialize, so the
		// executor drains its replan budget: exit 1, nothing changed.
		Expect(code).To(Equal(1), "output: %s", output)

		Expect(runGitOutput(cloneDir, "rev-parse", "HEAD")).To(Equal(headBefore))
		Expect(runGitOutput(cloneDir, "reflog")).To(Equal(reflogBefore))
		Expect(runGitOutput(cloneDir, "status", "--porcelain=v2")).To(Equal(statusBefore))
	})

	It("rebases a clean clone onto its upstream", func() {
		var cloneDir string
		tmpDir, cloneDir = setupDivergedClone("mend-rebase-*", 2)

		output, code := runMend(cloneDir, "run")
		Expect(code).To(Equal(0), "output: %s", output)
		Expect(output).To(ContainSubstring("goal_reached"))

		// Behind count must be zero afterwards.
		status := runGitOutput(cloneDir, "status", "--porcelain=v2", "--branch", "--ahead-behind")
		for _, line := range strings.Split(status, "\n") {
			if strings.HasPrefix(line, "# branch.ab") {
				Expect(line).To(ContainSubstring("-0"))
			}
		}

		// A backup ref was left behind for recovery.
		refs := runGitOutput(cloneDir, "show-ref")
		Expect(refs).To(ContainSubstring("refs/backup/mend/"))
	})
})
