package testhelpers

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// SceneTrunk is the trunk branch of every scene
const SceneTrunk = "master"

// Scene is a working clone with a bare "origin" remote, in a temporary
// directory removed after the test
type Scene struct {
	Dir    string
	Repo   *GitRepo
	Remote string
}

// SceneSetup is a function type for setting up a scene
type SceneSetup func(*Scene) error

// NewScene creates a clone whose trunk holds one commit, pushed to origin.
// The test is skipped when git is missing or too old for trial merges.
func NewScene(t *testing.T, setup SceneSetup) *Scene {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	t.Setenv("GIT_CONFIG_GLOBAL", "/dev/null")
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")

	dir := filepath.Join(t.TempDir(), "clone")
	repo, err := NewGitRepo(dir, SceneTrunk)
	if err != nil {
		t.Fatalf("Failed to create Git repo: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "zero_file"), []byte("initial commit\n"), 0600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if err := repo.RunGitCommand("add", "zero_file"); err != nil {
		t.Fatalf("Failed to add file: %v", err)
	}
	if err := repo.RunGitCommand("commit", "-q", "-m", "initial commit"); err != nil {
		t.Fatalf("Failed to create initial commit: %v", err)
	}
	if err := repo.RunGitCommand("merge-tree", "--write-tree", "HEAD", "HEAD"); err != nil {
		t.Skip("git too old for merge-tree --write-tree")
	}

	remote, err := repo.CreateBareRemote("origin")
	if err != nil {
		t.Fatalf("Failed to create remote: %v", err)
	}
	if err := repo.PushBranch("origin", SceneTrunk); err != nil {
		t.Fatalf("Failed to push %s: %v", SceneTrunk, err)
	}

	scene := &Scene{Dir: dir, Repo: repo, Remote: remote}
	if setup != nil {
		if err := setup(scene); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}
	}
	return scene
}

// AddBranch creates a branch off the trunk with the given files and pushes it
func (s *Scene) AddBranch(name string, files map[string]string) (string, error) {
	rev, err := s.Repo.CommitFiles(name, SceneTrunk, files)
	if err != nil {
		return "", err
	}
	return rev, s.Repo.PushBranch("origin", name)
}
