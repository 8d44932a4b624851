package acceptance_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("cli surface", func() {
	var tmpDir string

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("prints the version", func() {
		var repoDir string
		tmpDir, repoDir = setupTestRepo("mend-version-*")

		output, code := runMend(repoDir, "version")
		Expect(code).To(Equal(0))
		Expect(output).To(ContainSubstring("mend"))
	})

	It("shows the observed snapshot via status", func() {
		var repoDir string
		tmpDir, repoDir = setupTestRepo("mend-status-*")

		output, code := runMend(repoDir, "status")
		Expect(code).To(Equal(0), "output: %s", output)
		Expect(output).To(ContainSubstring("main"))
		Expect(output).To(ContainSubstring("risk"))
	})

	It("observes a quiet repository identically twice", func() {
		var repoDir string
		tmpDir, repoDir = setupTestRepo("mend-idempotent-*")

		first, code := runMend(repoDir, "status")
		Expect(code).To(Equal(0))
		second, code := runMend(repoDir, "status")
		Expect(code).To(Equal(0))
		Expect(second).To(Equal(first))
	})

	It("scaffolds a valid config via init", func() {
		var repoDir string
		tmpDir, repoDir = setupTestRepo("mend-init-*")

		output, code := runMend(repoDir, "init")
		Expect(code).To(Equal(0), "output: %s", output)

		configPath := filepath.Join(repoDir, "mend.toml")
		Expect(configPath).To(BeAnExistingFile())

		output, code = runMend(repoDir, "validate", "--config", configPath)
		Expect(code).To(Equal(0), "output: %s", output)

		// Re-running must refuse to clobber.
		_, code = runMend(repoDir, "init")
		Expect(code).NotTo(Equal(0))
	})

	It("validates a good config", func() {
		var repoDir string
		tmpDir, repoDir = setupTestRepo("mend-validate-*")
		configPath := filepath.Join(repoDir, "mend.toml")
		writeFile(configPath, `
[goal]
mode = "rebase_to_upstream"

[[strategy.rules]]
pattern = "**/*.lock"
resolution = "theirs"
`)

		output, code := runMend(repoDir, "validate", "--config", configPath)
		Expect(code).To(Equal(0), "output: %s", output)
		Expect(output).To(ContainSubstring("valid"))
	})

	It("rejects a bad config with every error listed", func() {
		var repoDir string
		tmpDir, repoDir = setupTestRepo("mend-invalid-*")
		configPath := filepath.Join(repoDir, "mend.toml")
		writeFile(configPath, `
[goal]
mode = "yolo"

[strategy]
conflict_style = "bogus"
`)

		output, code := runMend(repoDir, "validate", "--config", configPath)
		Expect(code).NotTo(Equal(0))
		Expect(output).To(ContainSubstring("goal.mode"))
		Expect(output).To(ContainSubstring("conflict_style"))
	})
})
