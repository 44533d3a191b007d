package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shipit.dev/shipit/internal/branchlist"
	shipiterrors "shipit.dev/shipit/internal/errors"
	"shipit.dev/shipit/internal/output"
	"shipit.dev/shipit/internal/report"
	"shipit.dev/shipit/internal/resolution"
)

// TestBranch is the local branch merges are built on. It is dropped after
// every run and never pushed under this name.
const TestBranch = "predeploy_merge_test"

// Options configures an Orchestrator
type Options struct {
	Scheme resolution.Scheme
	// Committer overrides the git committer email recorded on new entries
	Committer string
}

// Orchestrator runs strategies against a repository
type Orchestrator struct {
	repo   Repository
	splog  *output.Splog
	scheme resolution.Scheme
	graph  *resolution.Graph
	report *report.Report

	committer      string
	startingBranch string
}

// NewOrchestrator creates an orchestrator for the repository session
func NewOrchestrator(repo Repository, splog *output.Splog, opts Options) *Orchestrator {
	scheme := opts.Scheme
	if scheme.Prefix == "" {
		scheme.Prefix = resolution.DefaultPrefix
	}
	if scheme.Trunk == "" {
		scheme.Trunk = repo.Trunk()
	}
	return &Orchestrator{
		repo:      repo,
		splog:     splog,
		scheme:    scheme,
		graph:     resolution.NewGraph(scheme, nil),
		report:    report.New(),
		committer: opts.Committer,
	}
}

// Repo returns the repository session
func (o *Orchestrator) Repo() Repository {
	return o.repo
}

// Splog returns the logger
func (o *Orchestrator) Splog() *output.Splog {
	return o.splog
}

// Scheme returns the resolution naming scheme
func (o *Orchestrator) Scheme() resolution.Scheme {
	return o.scheme
}

// Graph returns the resolution graph of the loaded branch list
func (o *Orchestrator) Graph() *resolution.Graph {
	return o.graph
}

// Report returns the failure report collected during the run
func (o *Orchestrator) Report() *report.Report {
	return o.report
}

// Committer returns the email recorded on entries created by this run
func (o *Orchestrator) Committer() string {
	return o.committer
}

// StartingBranch returns the branch that was checked out when the run started
func (o *Orchestrator) StartingBranch() string {
	return o.startingBranch
}

// RemoteRef returns the remote tracking name of a branch
func (o *Orchestrator) RemoteRef(name string) string {
	return o.repo.Remote() + "/" + name
}

// Run checks preconditions, syncs and drives the strategy. The repository is
// always restored afterwards, even when a step fails.
func (o *Orchestrator) Run(ctx context.Context, s Strategy) (err error) {
	if err := o.prepare(ctx); err != nil {
		return o.reportError(err)
	}

	defer func() {
		o.cleanup(context.WithoutCancel(ctx))
	}()

	if err := o.checkRepository(ctx); err != nil {
		return o.reportError(err)
	}
	if err := o.repo.Sync(ctx); err != nil {
		return o.reportError(fmt.Errorf("failed to sync with %s: %w", o.repo.Remote(), err))
	}

	steps := []func(context.Context) error{s.Load, s.DetermineScope, s.Execute, s.Publish}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return o.reportError(err)
		}
		if err := step(ctx); err != nil {
			return o.reportError(err)
		}
	}
	return nil
}

// prepare performs the checks that must pass before anything may be touched
func (o *Orchestrator) prepare(ctx context.Context) error {
	if o.committer == "" {
		email, err := o.repo.CommitterEmail(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", shipiterrors.ErrCommitterUnset, err)
		}
		o.committer = email
	}
	if !strings.Contains(o.committer, "@") {
		return shipiterrors.ErrCommitterUnset
	}

	starting, err := o.repo.StartingBranch(ctx)
	if err != nil {
		return err
	}
	if starting == TestBranch {
		return fmt.Errorf("%w; please rename it", shipiterrors.ErrReservedBranch)
	}
	o.startingBranch = starting
	return nil
}

func (o *Orchestrator) checkRepository(ctx context.Context) error {
	clean, files, err := o.repo.WorkingTreeClean(ctx)
	if err != nil {
		return err
	}
	if !clean {
		return fmt.Errorf("%w:\n%s\nCommit or reset and try again", shipiterrors.ErrDirtyWorkingTree, strings.Join(files, "\n"))
	}

	if _, ok := o.repo.ResolveName(ctx, o.RemoteRef(o.repo.HistoryBranch())); !ok {
		return fmt.Errorf("%w for %s! Run `shipit history-branch --target %s` to create it",
			shipiterrors.ErrHistoryMissing, o.repo.Target(), o.repo.Target())
	}
	return nil
}

// cleanup aborts a failed merge, returns to the starting branch and drops the
// test branch. Failures are logged since the run result is already decided.
func (o *Orchestrator) cleanup(ctx context.Context) {
	if err := o.repo.ClearMerge(ctx); err != nil {
		o.splog.Warn("Failed to clear merge: %v", err)
	}
	if o.startingBranch != "" {
		if err := o.repo.Checkout(ctx, o.startingBranch); err != nil {
			o.splog.Warn("Failed to check out %s: %v", o.startingBranch, err)
		}
	}
	if err := o.repo.DropBranch(ctx, TestBranch); err != nil {
		o.splog.Debug("Test branch not dropped: %v", err)
	}
}

// reportError is the single exit point for failed runs
func (o *Orchestrator) reportError(err error) error {
	for _, line := range strings.Split(strings.TrimRight(err.Error(), "\n"), "\n") {
		o.splog.Error("%s", line)
	}
	if !errors.Is(err, shipiterrors.ErrNoChanges) {
		o.splog.Debug("%+v", err)
	}
	return err
}

// LoadBranches reads the tracked list from the ledger and indexes its
// resolution branches
func (o *Orchestrator) LoadBranches(ctx context.Context) (branchlist.List, error) {
	list, err := o.repo.ReadHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", o.repo.HistoryBranch(), err)
	}
	o.graph = resolution.NewGraph(o.scheme, list)
	return list, nil
}

// ResetTestBranch points the test branch at rev and checks it out
func (o *Orchestrator) ResetTestBranch(ctx context.Context, rev string) error {
	if err := o.repo.ClearMerge(ctx); err != nil {
		return err
	}
	if err := o.repo.Checkout(ctx, o.startingBranch); err != nil {
		return err
	}
	if err := o.repo.ForceSetRef(ctx, TestBranch, rev); err != nil {
		return err
	}
	return o.repo.Checkout(ctx, TestBranch)
}

// TestMerges trial-merges the branches in order onto commitID, or onto the
// remote target branch when no commit is given
func (o *Orchestrator) TestMerges(ctx context.Context, branches branchlist.List, target, commitID string) (MergeResult, error) {
	base := commitID
	if base == "" {
		base = o.RemoteRef(target)
	}
	sources := make([]string, len(branches))
	for i, b := range branches {
		sources[i] = b.CommitID
	}
	return o.repo.TrialMerge(ctx, base, sources, "testing merge")
}
