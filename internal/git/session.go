package git

import (
	"context"
	"fmt"
	"strings"

	"shipit.dev/shipit/internal/branchlist"
	"shipit.dev/shipit/internal/engine"
)

// HistoryFile is the ledger file committed on the history branch
const HistoryFile = ".branches.list"

// SessionOptions configures a Session
type SessionOptions struct {
	// Dir is any directory inside the working tree
	Dir string
	// Remote is fetched from. Remote branches are read as "<remote>/<name>".
	Remote string
	// PushRemote receives pushes, Remote when empty
	PushRemote string
	Target     string
	Trunk      string
}

// Session is the git repository a run operates on. It reads refs and objects
// through go-git and mutates through the git command line.
type Session struct {
	runner *CommandRunner
	repo   *Repository
	opts   SessionOptions
}

var _ engine.Repository = (*Session)(nil)

// NewSession opens the repository containing opts.Dir
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.PushRemote == "" {
		opts.PushRemote = opts.Remote
	}
	if opts.Target == "" {
		opts.Target = "staging"
	}
	if opts.Trunk == "" {
		opts.Trunk = "master"
	}

	repo, err := OpenRepository(opts.Dir)
	if err != nil {
		return nil, err
	}
	// auto gc would repack objects behind the go-git handle
	runner := NewCommandRunner(repo.Root()).WithEnv(
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=gc.auto",
		"GIT_CONFIG_VALUE_0=0",
	)
	return &Session{runner: runner, repo: repo, opts: opts}, nil
}

func (s *Session) Remote() string        { return s.opts.Remote }
func (s *Session) Target() string        { return s.opts.Target }
func (s *Session) Trunk() string         { return s.opts.Trunk }
func (s *Session) HistoryBranch() string { return s.opts.Target + "_history" }

// Root returns the root of the working tree
func (s *Session) Root() string {
	return s.repo.Root()
}

func (s *Session) CommitterEmail(ctx context.Context) (string, error) {
	email, err := s.runner.Run(ctx, "config", "user.email")
	if err != nil {
		return "", fmt.Errorf("failed to get git user email: %w", err)
	}
	return email, nil
}

func (s *Session) StartingBranch(_ context.Context) (string, error) {
	name, _, err := s.repo.CurrentBranch()
	return name, err
}

// WorkingTreeClean ignores untracked files
func (s *Session) WorkingTreeClean(ctx context.Context) (bool, []string, error) {
	out, err := s.runner.RunRaw(ctx, "status", "--porcelain")
	if err != nil {
		return false, nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "??") || len(line) < 4 {
			continue
		}
		files = append(files, line[3:])
	}
	merging, err := s.merging(ctx)
	if err != nil {
		return false, nil, err
	}
	if merging && len(files) == 0 {
		files = append(files, "MERGE_HEAD")
	}
	return len(files) == 0, files, nil
}

// Sync fetches the remote and resets the local history branch to it
func (s *Session) Sync(ctx context.Context) error {
	if err := s.Fetch(ctx); err != nil {
		return err
	}
	history := s.HistoryBranch()
	_, err := s.runner.Run(ctx, "branch", "-f", history, s.remoteRef(history))
	return err
}

// Fetch updates the remote-tracking branches
func (s *Session) Fetch(ctx context.Context) error {
	if _, err := s.runner.Run(ctx, "fetch", "--prune", s.opts.Remote); err != nil {
		return err
	}
	return s.reopen()
}

// RemoteBranches lists the branches last fetched from the remote
func (s *Session) RemoteBranches() ([]string, error) {
	return s.repo.RemoteBranchNames(s.opts.Remote)
}

// HasRemoteBranch reports whether the remote-tracking branch exists
func (s *Session) HasRemoteBranch(name string) bool {
	return s.repo.HasRef("refs/remotes/" + s.remoteRef(name))
}

// reopen drops the go-git handle, whose pack index does not see packs
// written by a fetch
func (s *Session) reopen() error {
	repo, err := OpenRepository(s.repo.Root())
	if err != nil {
		return err
	}
	s.repo = repo
	return nil
}

func (s *Session) ReadHistory(_ context.Context) (branchlist.List, error) {
	data, err := s.repo.ReadFile(branchRef(s.HistoryBranch()), HistoryFile)
	if err != nil {
		return nil, err
	}
	return branchlist.Parse([]byte(data))
}

// HistoryMessage returns the message of the latest ledger entry
func (s *Session) HistoryMessage(_ context.Context) (string, error) {
	return s.repo.CommitMessage(branchRef(s.HistoryBranch()))
}

// AppendHistory commits the list on top of the local history branch without
// touching the working tree, then force-pushes it
func (s *Session) AppendHistory(ctx context.Context, message string, list branchlist.List) error {
	logged := make(branchlist.List, len(list))
	for i, b := range list {
		logged[i] = b.Log()
	}
	data, err := branchlist.Encode(logged)
	if err != nil {
		return err
	}
	head, err := s.RevisionOf(ctx, branchRef(s.HistoryBranch()))
	if err != nil {
		return err
	}
	return s.commitHistory(ctx, string(data), message, head)
}

// InitHistory creates the history branch with an empty ledger and pushes it
func (s *Session) InitHistory(ctx context.Context) error {
	if err := s.Fetch(ctx); err != nil {
		return err
	}
	history := s.HistoryBranch()
	if s.HasRemoteBranch(history) {
		return fmt.Errorf("%s already exists on %s", history, s.opts.Remote)
	}
	return s.commitHistory(ctx, "", "Initial history for "+s.opts.Target, "")
}

func (s *Session) commitHistory(ctx context.Context, contents, message, parent string) error {
	blob, err := s.runner.RunWithInput(ctx, contents, "hash-object", "-w", "--stdin")
	if err != nil {
		return err
	}
	tree, err := s.runner.RunWithInput(ctx, fmt.Sprintf("100644 blob %s\t%s\n", blob, HistoryFile), "mktree")
	if err != nil {
		return err
	}
	args := []string{"commit-tree", tree, "-m", message}
	if parent != "" {
		args = append(args, "-p", parent)
	}
	commit, err := s.runner.Run(ctx, args...)
	if err != nil {
		return err
	}

	history := s.HistoryBranch()
	if _, err := s.runner.Run(ctx, "update-ref", branchRef(history), commit); err != nil {
		return err
	}
	return s.ForcePush(ctx, history, history)
}

// TrialMerge needs git 2.38 for merge-tree --write-tree
func (s *Session) TrialMerge(ctx context.Context, base string, sources []string, message string) (engine.MergeResult, error) {
	tip, err := s.RevisionOf(ctx, base)
	if err != nil {
		return engine.MergeResult{}, err
	}
	for _, source := range sources {
		theirs, err := s.RevisionOf(ctx, source)
		if err != nil {
			return engine.MergeResult{}, err
		}
		out, err := s.runner.Run(ctx, "merge-tree", "--write-tree", "--name-only", tip, theirs)
		if err != nil {
			if exitCode(err) == 1 {
				return engine.MergeResult{Output: commandOutput(err)}, nil
			}
			return engine.MergeResult{}, err
		}
		tree, _, _ := strings.Cut(out, "\n")
		tip, err = s.runner.Run(ctx, "commit-tree", tree, "-p", tip, "-p", theirs, "-m", message)
		if err != nil {
			return engine.MergeResult{}, err
		}
	}
	return engine.MergeResult{OK: true, Revision: tip}, nil
}

// IsAncestor treats unknown revisions as unrelated
func (s *Session) IsAncestor(_ context.Context, rev, of string) (bool, error) {
	if _, err := s.repo.ResolveRef(rev); err != nil {
		return false, nil
	}
	if _, err := s.repo.ResolveRef(of); err != nil {
		return false, nil
	}
	return s.repo.IsAncestor(rev, of)
}

// ResolveName maps a remote ref to its branch name and keeps local branch
// names. Other revisions are named by name-rev.
func (s *Session) ResolveName(ctx context.Context, rev string) (string, bool) {
	if name, ok := strings.CutPrefix(rev, s.opts.Remote+"/"); ok {
		if s.repo.HasRef("refs/remotes/" + rev) {
			return name, true
		}
		return "", false
	}
	if s.repo.HasRef(branchRef(rev)) {
		return rev, true
	}
	if _, err := s.repo.ResolveRef(rev); err != nil {
		return "", false
	}
	name, err := s.runner.Run(ctx, "name-rev", "--name-only", "--no-undefined", rev)
	if err != nil {
		return "", false
	}
	return name, true
}

func (s *Session) RevisionOf(_ context.Context, rev string) (string, error) {
	hash, err := s.repo.ResolveRef(rev)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func (s *Session) ForceSetRef(ctx context.Context, name, rev string) error {
	current, onBranch, err := s.repo.CurrentBranch()
	if err != nil {
		return err
	}
	if onBranch && current == name {
		_, err = s.runner.Run(ctx, "reset", "--hard", "-q", rev)
		return err
	}
	_, err = s.runner.Run(ctx, "branch", "-f", name, rev)
	return err
}

func (s *Session) ForcePush(ctx context.Context, local, remoteName string) error {
	hash, err := s.RevisionOf(ctx, local)
	if err != nil {
		return err
	}
	_, err = s.runner.Run(ctx, "push", "--force", "-q", s.opts.PushRemote, hash+":"+branchRef(remoteName))
	if err != nil {
		return err
	}
	return s.trackPush(ctx, remoteName, hash)
}

func (s *Session) DeleteRemoteRef(ctx context.Context, name string) error {
	_, err := s.runner.Run(ctx, "push", "-q", s.opts.PushRemote, "--delete", name)
	if err != nil && !strings.Contains(commandOutput(err), "remote ref does not exist") {
		return err
	}
	return s.trackPush(ctx, name, "")
}

// trackPush keeps the remote-tracking ref in line with a push that went to a
// separate push remote
func (s *Session) trackPush(ctx context.Context, name, hash string) error {
	if s.opts.PushRemote == s.opts.Remote {
		return nil
	}
	ref := "refs/remotes/" + s.remoteRef(name)
	if hash == "" {
		if !s.repo.HasRef(ref) {
			return nil
		}
		_, err := s.runner.Run(ctx, "update-ref", "-d", ref)
		return err
	}
	_, err := s.runner.Run(ctx, "update-ref", ref, hash)
	return err
}

func (s *Session) Checkout(ctx context.Context, name string) error {
	_, err := s.runner.Run(ctx, "checkout", "-q", name)
	return err
}

// Merge runs a no-fast-forward merge in the working tree. Conflicts are left
// for manual resolution.
func (s *Session) Merge(ctx context.Context, rev, message string) (engine.MergeResult, error) {
	_, err := s.runner.Run(ctx, "merge", "--no-ff", "--no-edit", "-m", message, rev)
	if err != nil {
		if exitCode(err) == 1 {
			return engine.MergeResult{Output: commandOutput(err)}, nil
		}
		return engine.MergeResult{}, err
	}
	head, err := s.RevisionOf(ctx, "HEAD")
	if err != nil {
		return engine.MergeResult{}, err
	}
	return engine.MergeResult{OK: true, Revision: head}, nil
}

func (s *Session) ClearMerge(ctx context.Context) error {
	merging, err := s.merging(ctx)
	if err != nil || !merging {
		return err
	}
	_, err = s.runner.Run(ctx, "reset", "--merge")
	return err
}

func (s *Session) DropBranch(ctx context.Context, name string) error {
	_, err := s.runner.Run(ctx, "branch", "-D", name)
	return err
}

func (s *Session) RenameBranch(ctx context.Context, oldName, newName string) error {
	_, err := s.runner.Run(ctx, "branch", "-m", oldName, newName)
	return err
}

func (s *Session) merging(ctx context.Context) (bool, error) {
	_, err := s.runner.Run(ctx, "rev-parse", "-q", "--verify", "MERGE_HEAD")
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, err
}

func (s *Session) remoteRef(name string) string {
	return s.opts.Remote + "/" + name
}

// branchRef returns the full ref name of a local branch
func branchRef(branch string) string {
	return "refs/heads/" + branch
}
