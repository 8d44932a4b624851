package acceptance_test

import (
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/gomega"
)

// setupTestRepo creates a temp directory holding a fresh git repository
// with one commit on main.
func setupTestRepo(pattern string) (tmpDir, repoDir string) {
	tmpDir, err := os.MkdirTemp("", pattern)
	Expect(err).NotTo(HaveOccurred())

	repoDir = filepath.Join(tmpDir, "repo")
	Expect(os.MkdirAll(repoDir, 0755)).To(Succeed())

	runGit(repoDir, "init", "-b", "main")
	runGit(repoDir, "config", "user.name", "mend-test")
	runGit(repoDir, "config", "user.email", "mend-test@localhost")
	writeFile(filepath.Join(repoDir, "README.md"), "hello\n")
	runGit(repoDir, "add", "-A")
	runGit(repoDir, "commit", "-m", "initial commit")

	return tmpDir, repoDir
}

// setupDivergedClone builds an origin repository plus a clone whose main is
// behind origin/main by `behind` commits, freshly fetched.
func setupDivergedClone(pattern string, behind int) (tmpDir, cloneDir string) {
	tmpDir, originDir := setupTestRepo(pattern)

	cloneDir = filepath.Join(tmpDir, "clone")
	runGit(tmpDir, "clone", originDir, cloneDir)
	runGit(cloneDir, "config", "user.name", "mend-test")
	runGit(cloneDir, "config", "user.email", "mend-test@localhost")

	for i := 0; i < behind; i++ {
		writeFile(filepath.Join(originDir, "upstream.txt"), string(rune('a'+i))+"\n")
		runGit(originDir, "add", "-A")
		runGit(originDir, "commit", "-m", "upstream change")
	}
	runGit(cloneDir, "fetch", "origin")

	return tmpDir, cloneDir
}

func writeFile(path, content string) {
	Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
}

func runGit(dir string, args ...string) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	Expect(err).NotTo(HaveOccurred(), "git %v: %s", args, string(output))
}

func runGitOutput(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	Expect(err).NotTo(HaveOccurred(), "git %v: %s", args, string(output))
	return string(output)
}

// runMend invokes the built binary and returns combined output and exit code.
func runMend(dir string, args ...string) (string, int) {
	cmd := exec.Command(binaryPath, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err == nil {
		return string(output), 0
	}
	exitErr, ok := err.(*exec.ExitError)
	Expect(ok).To(BeTrue(), "mend %v: %s: %v", args, string(output), err)
	return string(output), exitErr.ExitCode()
}
