package testhelpers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"shipit.dev/shipit/internal/branchlist"
	"shipit.dev/shipit/internal/engine"
)

const (
	memHistoryFile = ".branches.list"
	memCommitter   = "test@example.com"
)

type memCommit struct {
	id      string
	parents []string
	files   map[string]string
	message string
}

type memConflict struct {
	file string
	kind string
}

// memMerge is a conflicted working tree merge
type memMerge struct {
	theirs    string
	tree      map[string]string
	conflicts map[string][2]string
}

// MemRepo is an in-memory engine.Repository. Every commit stores its whole
// file tree and merges are resolved file by file against the merge base,
// which is enough to model the conflicts shipit deals with.
//
// Remote branches live in a single namespace that is visible as
// "<remote>/<name>" without fetching.
type MemRepo struct {
	remote    string
	target    string
	trunk     string
	committer string

	commits  map[string]*memCommit
	nextID   int
	heads    map[string]string
	remotes  map[string]string
	current  string
	detached string
	merging  *memMerge
	dirty    []string

	// Merges records every working tree merge by revision
	Merges []string
	// Pushes records every force push by remote name
	Pushes []string
}

var _ engine.Repository = (*MemRepo)(nil)

// NewMemRepo creates a repository with an initial trunk commit, pushed to the
// remote, and an empty history ledger
func NewMemRepo() *MemRepo {
	r := &MemRepo{
		remote:    "origin",
		target:    "staging",
		trunk:     "master",
		committer: memCommitter,
		commits:   make(map[string]*memCommit),
		heads:     make(map[string]string),
		remotes:   make(map[string]string),
	}
	r.heads[r.trunk] = r.newCommit(nil, map[string]string{"zero_file": "initial commit"}, "initial commit")
	r.remotes[r.trunk] = r.heads[r.trunk]
	r.current = r.trunk

	history := r.newCommit(nil, map[string]string{memHistoryFile: ""}, "initial "+memHistoryFile)
	r.heads[r.HistoryBranch()] = history
	r.remotes[r.HistoryBranch()] = history
	return r
}

func (r *MemRepo) Remote() string        { return r.remote }
func (r *MemRepo) Target() string        { return r.target }
func (r *MemRepo) Trunk() string         { return r.trunk }
func (r *MemRepo) HistoryBranch() string { return r.target + "_history" }

// SetCommitter changes the configured committer email
func (r *MemRepo) SetCommitter(email string) {
	r.committer = email
}

// SetDirty marks tracked files as modified in the working tree
func (r *MemRepo) SetDirty(files ...string) {
	r.dirty = files
}

func (r *MemRepo) CommitterEmail(_ context.Context) (string, error) {
	return r.committer, nil
}

func (r *MemRepo) StartingBranch(_ context.Context) (string, error) {
	if r.current != "" {
		return r.current, nil
	}
	return r.detached, nil
}

func (r *MemRepo) WorkingTreeClean(_ context.Context) (bool, []string, error) {
	if len(r.dirty) > 0 {
		return false, r.dirty, nil
	}
	if r.merging != nil {
		return false, r.ConflictedFiles(), nil
	}
	return true, nil, nil
}

func (r *MemRepo) Sync(_ context.Context) error {
	history, ok := r.remotes[r.HistoryBranch()]
	if !ok {
		return fmt.Errorf("no remote %s", r.HistoryBranch())
	}
	r.heads[r.HistoryBranch()] = history
	return nil
}

func (r *MemRepo) ReadHistory(_ context.Context) (branchlist.List, error) {
	head, ok := r.heads[r.HistoryBranch()]
	if !ok {
		return nil, fmt.Errorf("no branch %s", r.HistoryBranch())
	}
	return branchlist.Parse([]byte(r.commits[head].files[memHistoryFile]))
}

func (r *MemRepo) AppendHistory(_ context.Context, message string, list branchlist.List) error {
	logged := make(branchlist.List, len(list))
	for i, b := range list {
		logged[i] = b.Log()
	}
	data, err := branchlist.Encode(logged)
	if err != nil {
		return err
	}
	var parents []string
	if head, ok := r.heads[r.HistoryBranch()]; ok {
		parents = []string{head}
	}
	id := r.newCommit(parents, map[string]string{memHistoryFile: string(data)}, message)
	r.heads[r.HistoryBranch()] = id
	r.remotes[r.HistoryBranch()] = id
	return nil
}

func (r *MemRepo) TrialMerge(_ context.Context, base string, sources []string, message string) (engine.MergeResult, error) {
	tip, err := r.resolve(base)
	if err != nil {
		return engine.MergeResult{}, err
	}
	for _, source := range sources {
		theirs, err := r.resolve(source)
		if err != nil {
			return engine.MergeResult{}, err
		}
		tree, conflicts := r.mergeCommits(tip, theirs)
		if len(conflicts) > 0 {
			return engine.MergeResult{Output: conflictOutput(conflicts)}, nil
		}
		tip = r.newCommit([]string{tip, theirs}, tree, message)
	}
	return engine.MergeResult{OK: true, Revision: tip}, nil
}

func (r *MemRepo) IsAncestor(_ context.Context, rev, of string) (bool, error) {
	ancestor, err := r.resolve(rev)
	if err != nil {
		return false, nil
	}
	descendant, err := r.resolve(of)
	if err != nil {
		return false, nil
	}
	return r.ancestors(descendant)[ancestor], nil
}

func (r *MemRepo) ResolveName(_ context.Context, rev string) (string, bool) {
	if name, ok := strings.CutPrefix(rev, r.remote+"/"); ok {
		if _, exists := r.remotes[name]; exists {
			return name, true
		}
		return "", false
	}
	if _, exists := r.heads[rev]; exists {
		return rev, true
	}
	return "", false
}

func (r *MemRepo) RevisionOf(_ context.Context, rev string) (string, error) {
	return r.resolve(rev)
}

func (r *MemRepo) ForceSetRef(_ context.Context, name, rev string) error {
	id, err := r.resolve(rev)
	if err != nil {
		return err
	}
	r.heads[name] = id
	if r.current == name {
		r.merging = nil
	}
	return nil
}

func (r *MemRepo) ForcePush(_ context.Context, local, remoteName string) error {
	id, err := r.resolve(local)
	if err != nil {
		return err
	}
	r.remotes[remoteName] = id
	r.Pushes = append(r.Pushes, remoteName)
	return nil
}

func (r *MemRepo) DeleteRemoteRef(_ context.Context, name string) error {
	delete(r.remotes, name)
	return nil
}

func (r *MemRepo) Checkout(_ context.Context, name string) error {
	if r.merging != nil {
		return fmt.Errorf("cannot check out %s: merge in progress", name)
	}
	if _, ok := r.heads[name]; ok {
		r.current, r.detached = name, ""
		return nil
	}
	id, err := r.resolve(name)
	if err != nil {
		return err
	}
	r.current, r.detached = "", id
	return nil
}

func (r *MemRepo) Merge(_ context.Context, rev, message string) (engine.MergeResult, error) {
	if r.current == "" {
		return engine.MergeResult{}, fmt.Errorf("not on a branch")
	}
	theirs, err := r.resolve(rev)
	if err != nil {
		return engine.MergeResult{}, err
	}
	r.Merges = append(r.Merges, theirs)

	ours := r.heads[r.current]
	tree, conflicts := r.mergeCommits(ours, theirs)
	if len(conflicts) > 0 {
		merge := &memMerge{theirs: theirs, tree: tree, conflicts: make(map[string][2]string)}
		oursFiles, theirsFiles := r.commits[ours].files, r.commits[theirs].files
		for _, c := range conflicts {
			merge.conflicts[c.file] = [2]string{oursFiles[c.file], theirsFiles[c.file]}
		}
		r.merging = merge
		return engine.MergeResult{Output: conflictOutput(conflicts)}, nil
	}
	id := r.newCommit([]string{ours, theirs}, tree, message)
	r.heads[r.current] = id
	return engine.MergeResult{OK: true, Revision: id}, nil
}

func (r *MemRepo) ClearMerge(_ context.Context) error {
	r.merging = nil
	return nil
}

func (r *MemRepo) DropBranch(_ context.Context, name string) error {
	if _, ok := r.heads[name]; !ok {
		return fmt.Errorf("branch '%s' not found", name)
	}
	if r.current == name {
		return fmt.Errorf("cannot delete branch '%s' checked out", name)
	}
	delete(r.heads, name)
	return nil
}

func (r *MemRepo) RenameBranch(_ context.Context, oldName, newName string) error {
	id, ok := r.heads[oldName]
	if !ok {
		return fmt.Errorf("no branch named '%s'", oldName)
	}
	if _, exists := r.heads[newName]; exists {
		return fmt.Errorf("a branch named '%s' already exists", newName)
	}
	delete(r.heads, oldName)
	r.heads[newName] = id
	if r.current == oldName {
		r.current = newName
	}
	return nil
}

// CommitResolution finishes a conflicted merge the way an operator would,
// joining both sides of every conflicting file
func (r *MemRepo) CommitResolution(message string) error {
	if r.merging == nil {
		return fmt.Errorf("no merge in progress")
	}
	tree := copyFiles(r.merging.tree)
	for file, sides := range r.merging.conflicts {
		tree[file] = sides[0] + "|" + sides[1]
	}
	id := r.newCommit([]string{r.heads[r.current], r.merging.theirs}, tree, message)
	r.heads[r.current] = id
	r.merging = nil
	return nil
}

// ConflictedFiles lists the files of the merge in progress
func (r *MemRepo) ConflictedFiles() []string {
	if r.merging == nil {
		return nil
	}
	files := make([]string, 0, len(r.merging.conflicts))
	for file := range r.merging.conflicts {
		files = append(files, file)
	}
	sort.Strings(files)
	return files
}

// CurrentBranch returns the checked out branch
func (r *MemRepo) CurrentBranch() string {
	return r.current
}

// HasBranch reports whether a local branch exists
func (r *MemRepo) HasBranch(name string) bool {
	_, ok := r.heads[name]
	return ok
}

// RemoteBranch returns the commit a remote branch points at
func (r *MemRepo) RemoteBranch(name string) (string, bool) {
	id, ok := r.remotes[name]
	return id, ok
}

// Files returns the tree of a revision
func (r *MemRepo) Files(rev string) map[string]string {
	id, err := r.resolve(rev)
	if err != nil {
		return nil
	}
	return copyFiles(r.commits[id].files)
}

// Parent returns the first parent of a revision
func (r *MemRepo) Parent(rev string) string {
	id, err := r.resolve(rev)
	if err != nil || len(r.commits[id].parents) == 0 {
		return ""
	}
	return r.commits[id].parents[0]
}

// History returns the list recorded on the remote ledger
func (r *MemRepo) History() branchlist.List {
	list, err := branchlist.Parse([]byte(r.commits[r.remotes[r.HistoryBranch()]].files[memHistoryFile]))
	if err != nil {
		panic(err)
	}
	return list
}

// HistoryMessage returns the message of the latest ledger entry
func (r *MemRepo) HistoryMessage() string {
	return r.commits[r.remotes[r.HistoryBranch()]].message
}

// DeleteRemote removes a remote branch
func (r *MemRepo) DeleteRemote(name string) {
	delete(r.remotes, name)
}

// PushRef points a remote branch at a revision
func (r *MemRepo) PushRef(rev, name string) {
	r.remotes[name] = r.mustResolve(rev)
}

// CommitFiles commits files on top of a local branch, creating the branch from
// the trunk when needed, and pushes it
func (r *MemRepo) CommitFiles(branch string, files map[string]string) branchlist.Branch {
	parent, ok := r.heads[branch]
	if !ok {
		parent = r.heads[r.trunk]
	}
	tree := copyFiles(r.commits[parent].files)
	for file, content := range files {
		tree[file] = content
	}
	id := r.newCommit([]string{parent}, tree, "Add "+strings.Join(sortedKeys(files), ", "))
	r.heads[branch] = id
	r.remotes[branch] = id
	return branchlist.Branch{Name: branch, CommitID: id, Committer: r.committer}
}

// AddBranch creates a fresh branch off the trunk with the given files and
// pushes it. An existing branch of that name is rewritten.
func (r *MemRepo) AddBranch(name string, files map[string]string) branchlist.Branch {
	delete(r.heads, name)
	return r.CommitFiles(name, files)
}

// MergeToTrunk merges a branch into the trunk and pushes the trunk
func (r *MemRepo) MergeToTrunk(rev string) {
	ours := r.heads[r.trunk]
	theirs := r.mustResolve(rev)
	tree, conflicts := r.mergeCommits(ours, theirs)
	if len(conflicts) > 0 {
		panic(fmt.Sprintf("merge of %s into %s conflicts", rev, r.trunk))
	}
	r.heads[r.trunk] = r.newCommit([]string{ours, theirs}, tree, "Merge "+rev)
	r.remotes[r.trunk] = r.heads[r.trunk]
}

// BuildResolution merges branches onto base, resolving conflicts by joining
// both sides, and pushes the result under name without keeping a local branch
func (r *MemRepo) BuildResolution(name, base string, branches ...branchlist.Branch) branchlist.Branch {
	tip := r.mustResolve(base)
	for _, b := range branches {
		theirs := r.mustResolve(b.CommitID)
		tree, conflicts := r.mergeCommits(tip, theirs)
		for _, c := range conflicts {
			tree[c.file] = r.commits[tip].files[c.file] + "|" + r.commits[theirs].files[c.file]
		}
		tip = r.newCommit([]string{tip, theirs}, tree, "Merge "+b.Name)
	}
	r.remotes[name] = tip
	return branchlist.Branch{Name: name, CommitID: tip, Committer: r.committer}
}

// Stage merges a branch onto the remote target and records it in the ledger,
// the way a previous rebuild would have
func (r *MemRepo) Stage(b branchlist.Branch) {
	base, ok := r.remotes[r.target]
	if !ok {
		base = r.remotes[r.trunk]
	}
	theirs := r.mustResolve(b.CommitID)
	tree, conflicts := r.mergeCommits(base, theirs)
	if len(conflicts) > 0 {
		panic(fmt.Sprintf("staging %s conflicts", b.Name))
	}
	r.remotes[r.target] = r.newCommit([]string{base, theirs}, tree, "Merge "+b.Name)

	list := append(r.History(), b)
	if err := r.AppendHistory(context.Background(), b.Committer, list); err != nil {
		panic(err)
	}
}

func (r *MemRepo) newCommit(parents []string, files map[string]string, message string) string {
	r.nextID++
	id := fmt.Sprintf("%040x", r.nextID)
	r.commits[id] = &memCommit{
		id:      id,
		parents: parents,
		files:   copyFiles(files),
		message: message,
	}
	return id
}

func (r *MemRepo) resolve(rev string) (string, error) {
	if _, ok := r.commits[rev]; ok {
		return rev, nil
	}
	if name, ok := strings.CutPrefix(rev, r.remote+"/"); ok {
		if id, exists := r.remotes[name]; exists {
			return id, nil
		}
	}
	if id, ok := r.heads[rev]; ok {
		return id, nil
	}
	return "", fmt.Errorf("unknown revision %s", rev)
}

func (r *MemRepo) mustResolve(rev string) string {
	id, err := r.resolve(rev)
	if err != nil {
		panic(err)
	}
	return id
}

func (r *MemRepo) ancestors(id string) map[string]bool {
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		c := r.commits[queue[0]]
		queue = queue[1:]
		for _, p := range c.parents {
			if !seen[p] {
				seen[p] = true
				queue = append(queue, p)
			}
		}
	}
	return seen
}

// mergeBases returns the best common ancestors of a and b: those that are
// not an ancestor of another common ancestor
func (r *MemRepo) mergeBases(a, b string) []string {
	ofA := r.ancestors(a)
	var common []string
	for id := range r.ancestors(b) {
		if ofA[id] {
			common = append(common, id)
		}
	}

	var bases []string
	for _, id := range common {
		best := true
		for _, other := range common {
			if other != id && r.ancestors(other)[id] {
				best = false
				break
			}
		}
		if best {
			bases = append(bases, id)
		}
	}
	sort.Strings(bases)
	return bases
}

// mergeBaseFiles returns the tree to merge a and b against. Several best
// common ancestors are merged into a virtual base first, like git's
// recursive strategy; conflicts in the virtual base keep the first side.
func (r *MemRepo) mergeBaseFiles(a, b string) map[string]string {
	bases := r.mergeBases(a, b)
	if len(bases) == 0 {
		return nil
	}
	acc := bases[0]
	for _, next := range bases[1:] {
		tree, _ := mergeFiles(r.mergeBaseFiles(acc, next), r.commits[acc].files, r.commits[next].files)
		acc = r.newCommit([]string{acc, next}, tree, "virtual merge base")
	}
	return r.commits[acc].files
}

func (r *MemRepo) mergeCommits(ours, theirs string) (map[string]string, []memConflict) {
	return mergeFiles(r.mergeBaseFiles(ours, theirs), r.commits[ours].files, r.commits[theirs].files)
}

func mergeFiles(base, ours, theirs map[string]string) (map[string]string, []memConflict) {
	names := make(map[string]bool)
	for _, tree := range []map[string]string{base, ours, theirs} {
		for name := range tree {
			names[name] = true
		}
	}

	merged := make(map[string]string)
	var conflicts []memConflict
	for _, name := range sortedKeys(names) {
		b, inBase := base[name]
		o, inOurs := ours[name]
		t, inTheirs := theirs[name]
		switch {
		case inOurs == inTheirs && o == t:
			if inOurs {
				merged[name] = o
			}
		case inOurs == inBase && o == b:
			if inTheirs {
				merged[name] = t
			}
		case inTheirs == inBase && t == b:
			if inOurs {
				merged[name] = o
			}
		default:
			kind := "content"
			switch {
			case !inBase:
				kind = "add/add"
			case !inOurs || !inTheirs:
				kind = "modify/delete"
			}
			if inOurs {
				merged[name] = o
			}
			conflicts = append(conflicts, memConflict{file: name, kind: kind})
		}
	}
	return merged, conflicts
}

func conflictOutput(conflicts []memConflict) string {
	lines := []string{"Auto-merging"}
	for _, c := range conflicts {
		switch c.kind {
		case "modify/delete":
			lines = append(lines, fmt.Sprintf("CONFLICT (modify/delete): %s deleted in theirs and modified in HEAD.", c.file))
		default:
			lines = append(lines, fmt.Sprintf("CONFLICT (%s): Merge conflict in %s", c.kind, c.file))
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func copyFiles(files map[string]string) map[string]string {
	result := make(map[string]string, len(files))
	for k, v := range files {
		result[k] = v
	}
	return result
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
