package acceptance_test

import (
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("plan", func() {
	var tmpDir string

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("prints nothing to do for a quiet repository", func() {
		var repoDir string
		tmpDir, repoDir = setupTestRepo("mend-plan-quiet-*")

		output, code := runMend(repoDir, "plan")
		Expect(code).To(Equal(0), "output: %s", output)
		Expect(output).To(ContainSubstring("nothing to do"))
	})

	It("plans a rebase for a clone behind upstream", func() {
		var cloneDir string
		tmpDir, cloneDir = setupDivergedClone("mend-plan-behind-*", 2)

		output, code := runMend(cloneDir, "plan")
		Expect(code).To(Equal(0), "output: %s", output)
		Expect(output).To(ContainSubstring("BackupRef"))
		Expect(output).To(ContainSubstring("RebaseOntoUpstream"))
		Expect(output).To(ContainSubstring("RebaseContinue"))
		Expect(output).To(ContainSubstring("estimated cost"))
	})

	It("emits machine-readable plans with --json", func() {
		var cloneDir string
		tmpDir, cloneDir = setupDivergedClone("mend-plan-json-*", 1)

		output, code := runMend(cloneDir, "plan", "--json")
		Expect(code).To(Equal(0), "output: %s", output)
		Expect(output).To(ContainSubstring(`"Steps"`))
		Expect(output).To(ContainSubstring(`"EstimatedCost"`))
	})

	It("never mutates the repository", func() {
		var cloneDir string
		tmpDir, cloneDir = setupDivergedClone("mend-plan-readonly-*", 2)

		headBefore := runGitOutput(cloneDir, "rev-parse", "HEAD")
		_, code := runMend(cloneDir, "plan")
		Expect(code).To(Equal(0))
		Expect(runGitOutput(cloneDir, "rev-parse", "HEAD")).To(Equal(headBefore))
	})
})
