package git

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// goGitMu serializes go-git access, packfile reads are not safe for
// concurrent use
var goGitMu sync.Mutex

// Repository wraps a go-git repository for read access to objects and refs
type Repository struct {
	*git.Repository
	path string
}

// OpenRepository opens the git repository containing path
func OpenRepository(path string) (*Repository, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	repo, err := git.PlainOpenWithOptions(absPath, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	root := absPath
	if worktree, err := repo.Worktree(); err == nil {
		root = worktree.Filesystem.Root()
	}
	return &Repository{Repository: repo, path: root}, nil
}

// Root returns the root directory of the working tree
func (r *Repository) Root() string {
	return r.path
}

// ResolveRef resolves a full ref name, a local branch, a remote branch
// "<remote>/<name>" or a commit id
func (r *Repository) ResolveRef(ref string) (plumbing.Hash, error) {
	goGitMu.Lock()
	defer goGitMu.Unlock()
	return r.resolveLocked(ref)
}

func (r *Repository) resolveLocked(ref string) (plumbing.Hash, error) {
	candidates := []plumbing.ReferenceName{
		plumbing.ReferenceName(ref),
		plumbing.NewBranchReferenceName(ref),
		plumbing.ReferenceName("refs/remotes/" + ref),
	}
	for _, name := range candidates {
		if reference, err := r.Reference(name, true); err == nil {
			return reference.Hash(), nil
		}
	}

	// SHAs, short SHAs and expressions
	hash, err := r.ResolveRevision(plumbing.Revision(ref))
	if err == nil {
		if _, err := r.CommitObject(*hash); err == nil {
			return *hash, nil
		}
	}
	return plumbing.ZeroHash, fmt.Errorf("failed to resolve ref %s: reference not found", ref)
}

// HasRef reports whether a full ref name exists
func (r *Repository) HasRef(name string) bool {
	goGitMu.Lock()
	defer goGitMu.Unlock()
	_, err := r.Reference(plumbing.ReferenceName(name), true)
	return err == nil
}

// IsAncestor checks if the first ref is an ancestor of the second ref
func (r *Repository) IsAncestor(ancestor, descendant string) (bool, error) {
	goGitMu.Lock()
	defer goGitMu.Unlock()

	ancestorHash, err := r.resolveLocked(ancestor)
	if err != nil {
		return false, fmt.Errorf("failed to resolve ancestor ref: %w", err)
	}
	descendantHash, err := r.resolveLocked(descendant)
	if err != nil {
		return false, fmt.Errorf("failed to resolve descendant ref: %w", err)
	}
	if ancestorHash == descendantHash {
		return true, nil
	}

	ancestorCommit, err := r.CommitObject(ancestorHash)
	if err != nil {
		return false, fmt.Errorf("failed to get ancestor commit: %w", err)
	}
	descendantCommit, err := r.CommitObject(descendantHash)
	if err != nil {
		return false, fmt.Errorf("failed to get descendant commit: %w", err)
	}
	return ancestorCommit.IsAncestor(descendantCommit)
}

// ReadFile returns the contents of a file at a revision. A missing file
// yields an empty string.
func (r *Repository) ReadFile(rev, path string) (string, error) {
	goGitMu.Lock()
	defer goGitMu.Unlock()

	hash, err := r.resolveLocked(rev)
	if err != nil {
		return "", err
	}
	commit, err := r.CommitObject(hash)
	if err != nil {
		return "", fmt.Errorf("failed to get commit %s: %w", rev, err)
	}
	file, err := commit.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s at %s: %w", path, rev, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return "", err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CurrentBranch returns the checked out branch, or the commit id when HEAD is
// detached
func (r *Repository) CurrentBranch() (string, bool, error) {
	goGitMu.Lock()
	defer goGitMu.Unlock()

	head, err := r.Head()
	if err != nil {
		return "", false, fmt.Errorf("failed to get HEAD: %w", err)
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), true, nil
	}
	return head.Hash().String(), false, nil
}

// CommitMessage returns the full message of a commit
func (r *Repository) CommitMessage(rev string) (string, error) {
	goGitMu.Lock()
	defer goGitMu.Unlock()

	hash, err := r.resolveLocked(rev)
	if err != nil {
		return "", err
	}
	commit, err := r.CommitObject(hash)
	if err != nil {
		return "", err
	}
	return commit.Message, nil
}

// RemoteBranchNames returns the sorted names of the remote-tracking branches
// of remote, without the remote prefix
func (r *Repository) RemoteBranchNames(remote string) ([]string, error) {
	goGitMu.Lock()
	defer goGitMu.Unlock()

	refs, err := r.References()
	if err != nil {
		return nil, fmt.Errorf("failed to list references: %w", err)
	}
	defer refs.Close()

	prefix := "refs/remotes/" + remote + "/"
	var names []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name, ok := strings.CutPrefix(ref.Name().String(), prefix)
		if ok && name != "HEAD" {
			names = append(names, name)
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}
