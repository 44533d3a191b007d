package testhelpers

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitRepo is a working clone used by git scenes
type GitRepo struct {
	Dir string
}

// NewGitRepo initializes a new Git repository in dir on branch trunk
func NewGitRepo(dir, trunk string) (*GitRepo, error) {
	cmd := exec.Command("git", "-c", "init.defaultBranch="+trunk, "-c", "core.autocrlf=false", "init", dir, "-b", trunk)
	cmd.Env = gitEnv()
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("failed to init repo: %w: %s", err, out)
	}

	repo := &GitRepo{Dir: dir}
	if err := repo.RunGitCommand("config", "user.name", "Test User"); err != nil {
		return nil, err
	}
	if err := repo.RunGitCommand("config", "user.email", memCommitter); err != nil {
		return nil, err
	}
	return repo, nil
}

// gitEnv avoids reading the global git config
func gitEnv() []string {
	return append(os.Environ(), "GIT_CONFIG_GLOBAL=/dev/null", "GIT_CONFIG_NOSYSTEM=1")
}

// RunGitCommand executes a git command in the repository directory
func (r *GitRepo) RunGitCommand(args ...string) error {
	_, err := r.RunGitCommandAndGetOutput(args...)
	return err
}

// RunGitCommandAndGetOutput executes a git command and returns its trimmed
// output
func (r *GitRepo) RunGitCommandAndGetOutput(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Dir
	cmd.Env = gitEnv()
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, output)
	}
	return strings.TrimSpace(string(output)), nil
}

// CreateBareRemote creates a bare repository next to the clone and adds it
// as a remote
func (r *GitRepo) CreateBareRemote(name string) (string, error) {
	bareDir := r.Dir + "-" + name + ".git"
	cmd := exec.Command("git", "init", "--bare", bareDir)
	cmd.Env = gitEnv()
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("failed to create bare repo: %w: %s", err, out)
	}
	if err := r.RunGitCommand("remote", "add", name, bareDir); err != nil {
		return "", err
	}
	return bareDir, nil
}

// CommitFiles writes files on branch and commits them. A missing branch is
// created from base. The previously checked out branch is restored.
func (r *GitRepo) CommitFiles(branch, base string, files map[string]string) (string, error) {
	previous, err := r.CurrentBranchName()
	if err != nil {
		return "", err
	}
	if err := r.RunGitCommand("rev-parse", "--verify", "-q", "refs/heads/"+branch); err != nil {
		if err := r.RunGitCommand("branch", branch, base); err != nil {
			return "", err
		}
	}
	if err := r.RunGitCommand("checkout", "-q", branch); err != nil {
		return "", err
	}

	for _, name := range sortedKeys(files) {
		path := filepath.Join(r.Dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(files[name]+"\n"), 0600); err != nil {
			return "", fmt.Errorf("failed to write file: %w", err)
		}
		if err := r.RunGitCommand("add", name); err != nil {
			return "", err
		}
	}
	if err := r.RunGitCommand("commit", "-q", "-m", "Add "+strings.Join(sortedKeys(files), ", ")); err != nil {
		return "", err
	}
	rev, err := r.GetRevision("HEAD")
	if err != nil {
		return "", err
	}
	if previous != "" && previous != branch {
		if err := r.RunGitCommand("checkout", "-q", previous); err != nil {
			return "", err
		}
	}
	return rev, nil
}

// PushBranch pushes a branch to a remote
func (r *GitRepo) PushBranch(remote, branch string) error {
	return r.RunGitCommand("push", "-q", "-f", remote, branch+":refs/heads/"+branch)
}

// CheckoutBranch checks out a branch
func (r *GitRepo) CheckoutBranch(name string) error {
	return r.RunGitCommand("checkout", "-q", name)
}

// CurrentBranchName returns the name of the current branch
func (r *GitRepo) CurrentBranchName() (string, error) {
	return r.RunGitCommandAndGetOutput("branch", "--show-current")
}

// GetRevision returns the SHA of a revision
func (r *GitRepo) GetRevision(rev string) (string, error) {
	return r.RunGitCommandAndGetOutput("rev-parse", rev)
}

// BranchExists reports whether a local branch exists
func (r *GitRepo) BranchExists(name string) bool {
	return r.RunGitCommand("rev-parse", "--verify", "-q", "refs/heads/"+name) == nil
}

// ShowFile returns the contents of a file at a revision
func (r *GitRepo) ShowFile(rev, path string) (string, error) {
	return r.RunGitCommandAndGetOutput("show", rev+":"+path)
}

// ResolveConflicts writes files into a conflicted merge and commits it
func (r *GitRepo) ResolveConflicts(files map[string]string) error {
	for _, name := range sortedKeys(files) {
		if err := os.WriteFile(filepath.Join(r.Dir, name), []byte(files[name]+"\n"), 0600); err != nil {
			return fmt.Errorf("failed to write file: %w", err)
		}
		if err := r.RunGitCommand("add", name); err != nil {
			return err
		}
	}
	return r.RunGitCommand("commit", "-q", "--no-edit")
}
