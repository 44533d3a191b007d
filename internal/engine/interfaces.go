package engine

import (
	"context"

	"shipit.dev/shipit/internal/branchlist"
)

// MergeResult is the outcome of a merge attempt
type MergeResult struct {
	// OK is false when the merge conflicted
	OK bool
	// Revision is the resulting commit of a clean merge
	Revision string
	// Output carries the git diagnostics of a conflicting merge
	Output string
}

// Repository is the version control session a run operates on. Revisions may
// be commit ids, local branch names or "<remote>/<branch>" names.
type Repository interface {
	// Remote is the remote branches are fetched from
	Remote() string
	// Target is the staging branch being managed
	Target() string
	// Trunk is the base every branch is merged onto
	Trunk() string
	// HistoryBranch is the local name of the ledger branch
	HistoryBranch() string

	CommitterEmail(ctx context.Context) (string, error)
	// StartingBranch is the branch checked out before the run, or the
	// detached commit
	StartingBranch(ctx context.Context) (string, error)
	// WorkingTreeClean reports whether there are modified tracked files or an
	// unfinished merge. The offending files are returned when unclean.
	WorkingTreeClean(ctx context.Context) (bool, []string, error)
	// Sync fetches the remote and resets the local history branch to it
	Sync(ctx context.Context) error

	// ReadHistory returns the list recorded by the latest ledger entry
	ReadHistory(ctx context.Context) (branchlist.List, error)
	// AppendHistory commits a new ledger entry and force-pushes the ledger
	AppendHistory(ctx context.Context, message string, list branchlist.List) error

	// TrialMerge merges sources one by one onto base without touching the
	// working tree or any branch
	TrialMerge(ctx context.Context, base string, sources []string, message string) (MergeResult, error)
	// IsAncestor reports whether rev is reachable from of. Unknown revisions
	// are never ancestors.
	IsAncestor(ctx context.Context, rev, of string) (bool, error)
	// ResolveName returns the branch name a revision resolves to, if any
	ResolveName(ctx context.Context, rev string) (string, bool)
	RevisionOf(ctx context.Context, rev string) (string, error)

	// ForceSetRef points a local branch at rev, resetting the working tree
	// when the branch is checked out
	ForceSetRef(ctx context.Context, name, rev string) error
	// ForcePush overwrites remoteName on the push remote with a local ref
	ForcePush(ctx context.Context, local, remoteName string) error
	// DeleteRemoteRef removes a remote branch. Absent branches are not an error.
	DeleteRemoteRef(ctx context.Context, name string) error

	Checkout(ctx context.Context, name string) error
	// Merge merges rev into the checked out branch, leaving conflicts in the
	// working tree for manual resolution
	Merge(ctx context.Context, rev, message string) (MergeResult, error)
	// ClearMerge aborts a conflicted working tree merge, if any
	ClearMerge(ctx context.Context) error
	DropBranch(ctx context.Context, name string) error
	RenameBranch(ctx context.Context, oldName, newName string) error
}

// Strategy is one kind of run. The Orchestrator calls the steps in order and
// cleans up afterwards whatever the outcome.
type Strategy interface {
	// Load reads the tracked list and the change requests
	Load(ctx context.Context) error
	// DetermineScope decides what needs to be merged
	DetermineScope(ctx context.Context) error
	// Execute builds the result on the test branch
	Execute(ctx context.Context) error
	// Publish hands the result over
	Publish(ctx context.Context) error
}

// MissingFunc returns the names a branch depends on that are not present.
// It may annotate the branch.
type MissingFunc func(b *branchlist.Branch, present map[string]bool) []string
