// Package resolve checks requested branches against the staging branch and
// builds the conflict resolutions they need, producing the addition and
// removal requests consumed by rebuild.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"shipit.dev/shipit/internal/branchlist"
	"shipit.dev/shipit/internal/engine"
	shipiterrors "shipit.dev/shipit/internal/errors"
	"shipit.dev/shipit/internal/prompt"
)

// Operator prompts
const (
	ResolveRequest = "Please resolve the merge conflict in another terminal, commit, come back here and press Enter to continue."
	NotFinished    = "Merge conflict still not resolved, see above and try again."
	UsageQuery     = "Can I use it?"
)

// Options contains options for the resolve command
type Options struct {
	// Branches are the revisions requested for staging
	Branches []string
	// Force ignores requested branches that cannot be found
	Force bool

	AdditionsFile string
	RemovalsFile  string
}

// Strategy resolves requested branches against the staging branch
type Strategy struct {
	o        *engine.Orchestrator
	repo     engine.Repository
	operator prompt.Operator
	opts     Options

	tracked   branchlist.List
	requested branchlist.List
	skipped   branchlist.List
	status    mergeStatus

	additions branchlist.List
	removals  branchlist.List
}

var _ engine.Strategy = (*Strategy)(nil)

// New creates a resolve strategy. The operator is asked to fix conflicts
// that cannot be resolved automatically.
func New(o *engine.Orchestrator, operator prompt.Operator, opts Options) *Strategy {
	if opts.AdditionsFile == "" {
		opts.AdditionsFile = branchlist.AdditionsFile
	}
	if opts.RemovalsFile == "" {
		opts.RemovalsFile = branchlist.RemovalsFile
	}
	return &Strategy{
		o:        o,
		repo:     o.Repo(),
		operator: operator,
		opts:     opts,
	}
}

// Additions returns the branches requested for the next rebuild
func (s *Strategy) Additions() branchlist.List {
	return s.additions
}

// Removals returns the tracked branches requested to be dropped
func (s *Strategy) Removals() branchlist.List {
	return s.removals
}

// Load reads the tracked list and resolves the requested revisions
func (s *Strategy) Load(ctx context.Context) error {
	tracked, err := s.o.LoadBranches(ctx)
	if err != nil {
		return err
	}
	s.tracked = tracked

	var missing []string
	for _, name := range s.opts.Branches {
		if _, ok := s.repo.ResolveName(ctx, name); !ok {
			missing = append(missing, name)
			continue
		}
		rev, err := s.repo.RevisionOf(ctx, name)
		if err != nil {
			return err
		}
		s.requested = append(s.requested, branchlist.Branch{Name: name, CommitID: rev, Committer: s.o.Committer()})
	}

	if len(s.requested) == 0 {
		return shipiterrors.ErrNoBranchesResolved
	}
	if len(missing) > 0 {
		if !s.opts.Force {
			s.o.Splog().Info("Missing: %s", strings.Join(missing, ", "))
			return shipiterrors.ErrBranchesMissing
		}
		s.o.Splog().Warn("Ignoring missing branches: %s", strings.Join(missing, ", "))
	}
	return s.checkTargetNotIncluded(ctx)
}

// checkTargetNotIncluded refuses branches built on top of the staging branch,
// unless staging is already part of master
func (s *Strategy) checkTargetNotIncluded(ctx context.Context) error {
	target := s.o.RemoteRef(s.repo.Target())
	if _, ok := s.repo.ResolveName(ctx, target); ok {
		merged, err := s.repo.IsAncestor(ctx, target, s.o.RemoteRef(s.repo.Trunk()))
		if err != nil {
			return err
		}
		if merged {
			return nil
		}
	}

	var including []string
	for _, b := range s.requested {
		if b.Name == s.repo.Trunk() {
			continue
		}
		in, err := s.repo.IsAncestor(ctx, target, b.CommitID)
		if err != nil {
			return err
		}
		if in {
			including = append(including, b.Name)
		}
	}
	if len(including) > 0 {
		return fmt.Errorf("%w %s: \n- %s", shipiterrors.ErrIncludesTarget, s.repo.Target(), strings.Join(including, "\n- "))
	}
	return nil
}

// DetermineScope creates the staging branch when missing and drops requests
// that are already tracked
func (s *Strategy) DetermineScope(ctx context.Context) error {
	target := s.repo.Target()
	if _, ok := s.repo.ResolveName(ctx, s.o.RemoteRef(target)); !ok {
		s.o.Splog().Info("Creating %s from %s", target, s.repo.Trunk())
		if err := s.repo.ForcePush(ctx, s.o.RemoteRef(s.repo.Trunk()), target); err != nil {
			return err
		}
	}

	var fresh branchlist.List
	for _, b := range s.requested {
		if s.tracked.Contains(b) {
			s.o.Splog().Debug("%s already in %s", b.Name, target)
			continue
		}
		fresh = append(fresh, b)
	}
	if len(fresh) == 0 {
		return fmt.Errorf("%w %s!", shipiterrors.ErrAllInTarget, target)
	}
	s.requested = fresh
	return nil
}

// Execute checks the requests against staging, first as is, then against
// staging rebuilt without the rewritten branches, and finally builds the
// conflict resolutions that are needed
func (s *Strategy) Execute(ctx context.Context) error {
	ok, err := s.simpleMerge(ctx)
	if err != nil {
		return err
	}
	if !ok {
		if ok, err = s.rebasedMerge(ctx); err != nil {
			return err
		}
	}
	if ok {
		s.o.Splog().Info("Merge successful!")
		s.additions = s.requested
		s.removals = s.skipped
		return nil
	}

	s.o.Splog().Info("Testing against all branches...")
	if err := s.checkAgainstMaster(ctx); err != nil {
		return err
	}
	resolves, err := s.resolveBroken(ctx)
	if err != nil {
		return err
	}
	s.additions = append(resolves, s.requested...)
	s.removals = s.skipped.WithoutNames(resolves.NameSet())
	return nil
}

// Publish pushes additions the remote does not have yet and writes the
// request files
func (s *Strategy) Publish(ctx context.Context) error {
	for _, b := range s.additions {
		pushed, err := s.repo.IsAncestor(ctx, b.CommitID, s.o.RemoteRef(b.Name))
		if err != nil {
			return err
		}
		if pushed {
			continue
		}
		s.o.Splog().Info("Pushing %s", b.Name)
		if err := s.repo.ForcePush(ctx, b.CommitID, b.Name); err != nil {
			return err
		}
	}

	if err := branchlist.WriteFile(s.opts.AdditionsFile, logged(s.additions)); err != nil {
		return err
	}
	if err := branchlist.WriteFile(s.opts.RemovalsFile, logged(s.removals)); err != nil {
		return err
	}
	s.o.Splog().Info("Requested %d additions and %d removals", len(s.additions), len(s.removals))
	return nil
}

// simpleMerge tries the requests on top of the current staging branch. It only
// applies while staging is based on current master and every request is a
// fast-forward of its tracked record.
func (s *Strategy) simpleMerge(ctx context.Context) (bool, error) {
	current, err := s.repo.IsAncestor(ctx, s.o.RemoteRef(s.repo.Trunk()), s.o.RemoteRef(s.repo.Target()))
	if err != nil || !current {
		return false, err
	}
	for _, b := range s.requested {
		old, ok := s.tracked.Find(b.Name)
		if !ok {
			continue
		}
		linear, err := s.repo.IsAncestor(ctx, old.CommitID, b.CommitID)
		if err != nil || !linear {
			return false, err
		}
	}

	s.status, err = s.checkAgainst(ctx, s.repo.Target(), "")
	if err != nil {
		return false, err
	}
	return s.status.OK(), nil
}

// rebasedMerge rebuilds staging from master without the requested branches
// and tries the requests on top of it
func (s *Strategy) rebasedMerge(ctx context.Context) (bool, error) {
	s.o.Splog().Info("Rebuilding %s without rewritten branches", s.repo.Target())
	if err := s.o.ResetTestBranch(ctx, s.o.RemoteRef(s.repo.Trunk())); err != nil {
		return false, err
	}
	outcome, err := s.o.MassMerge(ctx, s.tracked.WithoutNames(s.requested.NameSet()), nil, nil)
	if err != nil {
		return false, err
	}
	s.skipped = outcome.Skipped

	tip, err := s.repo.RevisionOf(ctx, engine.TestBranch)
	if err != nil {
		return false, err
	}
	s.status, err = s.checkAgainst(ctx, s.repo.Target(), tip)
	if err != nil {
		return false, err
	}
	return s.status.OK(), nil
}

func (s *Strategy) checkAgainstMaster(ctx context.Context) error {
	status, err := s.checkAgainst(ctx, s.repo.Trunk(), "")
	if err != nil {
		return err
	}
	if broken := status.Broken(); len(broken) > 0 {
		return fmt.Errorf("%w: %s", shipiterrors.ErrMasterConflict, strings.Join(broken.Names(), ", "))
	}
	return nil
}

// checkAgainst trial-merges every request on its own onto the target, then
// all of them together
func (s *Strategy) checkAgainst(ctx context.Context, target, commitID string) (mergeStatus, error) {
	s.o.Splog().Info("Testing merge to %s", describe(target, commitID))

	var status mergeStatus
	for _, b := range s.requested {
		result, err := s.o.TestMerges(ctx, branchlist.List{b}, target, commitID)
		if err != nil {
			return status, err
		}
		status.results = append(status.results, branchResult{branch: b, ok: result.OK})
	}

	status.combined = true
	if len(s.requested) > 1 && len(status.Broken()) == 0 {
		result, err := s.o.TestMerges(ctx, s.requested, target, commitID)
		if err != nil {
			return status, err
		}
		status.combined = result.OK
	}
	return status, nil
}

// resolveBroken builds a resolution for every tracked branch a broken request
// conflicts with. When more than one resolution is involved, an umbrella
// resolution merging all of them onto master is built as well.
func (s *Strategy) resolveBroken(ctx context.Context) (branchlist.List, error) {
	graph := s.o.Graph()
	scheme := s.o.Scheme()
	broken := s.status.Broken()
	brokenNames := broken.NameSet()

	var resolves branchlist.List
	var touched []string
	touchedSet := make(map[string]bool)
	touch := func(names ...string) {
		for _, name := range names {
			if !touchedSet[name] {
				touchedSet[name] = true
				touched = append(touched, name)
			}
		}
	}

	for _, b := range s.tracked {
		if brokenNames[b.Name] || graph.IsResolution(b.Name) {
			continue
		}
		for _, bb := range broken {
			if _, ok := resolves.Find(scheme.Name(b.Name, bb.Name)); ok {
				continue
			}
			fix, err := s.resolveMerge(ctx, b.Name, b.CommitID, branchlist.List{bb})
			if err != nil {
				return nil, err
			}
			if fix != nil {
				resolves = append(resolves, *fix)
				touch(b.Name, bb.Name)
			}
		}
	}

	resolved := resolves.NameSet()
	var extra branchlist.List
	for _, name := range touched {
		for _, dependent := range graph.Dependents(name) {
			if !resolved[dependent.Name] {
				extra = append(extra, dependent)
			}
		}
	}

	all := append(resolves.Clone(), extra.Dedup()...)
	if len(all) > 1 {
		umbrella, err := s.resolveMerge(ctx, s.repo.Trunk(), "", all)
		if err != nil {
			return nil, err
		}
		if umbrella != nil {
			resolves = append(branchlist.List{*umbrella}, resolves...)
		}
	}
	return resolves, nil
}

// resolveMerge merges broken onto base. A clean merge needs no resolution
// unless it combines existing resolutions. Otherwise a published resolution is
// offered to the operator, or a new one is built with their help.
func (s *Strategy) resolveMerge(ctx context.Context, base, commitID string, broken branchlist.List) (*branchlist.Branch, error) {
	splog := s.o.Splog()
	splog.Info("Testing merge to %s", describe(base, commitID))
	result, err := s.o.TestMerges(ctx, broken, base, commitID)
	if err != nil {
		return nil, err
	}

	coalescing := false
	for _, b := range broken {
		if s.o.Graph().IsResolution(b.Name) {
			coalescing = true
			break
		}
	}
	if result.OK && !coalescing {
		return nil, nil
	}

	name := s.o.Scheme().NameFor(base, broken)
	if result.OK {
		splog.Info("Coalescing conflict resolutions!")
		if err := s.repo.ForceSetRef(ctx, engine.TestBranch, result.Revision); err != nil {
			return nil, err
		}
	} else {
		splog.Error("Merge with %s failed!", base)
		fix, err := s.tryFix(ctx, name, base, commitID, broken)
		if err != nil || fix != nil {
			return fix, err
		}
		if err := s.buildResolution(ctx, base, commitID, broken); err != nil {
			return nil, err
		}
	}

	final, err := s.o.RenameWithRetry(ctx, name, true)
	if err != nil {
		return nil, err
	}
	rev, err := s.repo.RevisionOf(ctx, final)
	if err != nil {
		return nil, err
	}
	return &branchlist.Branch{Name: final, CommitID: rev, Committer: s.o.Committer()}, nil
}

// tryFix offers the published resolution of that name, when it still merges
func (s *Strategy) tryFix(ctx context.Context, name, base, commitID string, broken branchlist.List) (*branchlist.Branch, error) {
	remote := s.o.RemoteRef(name)
	if _, ok := s.repo.ResolveName(ctx, remote); !ok {
		return nil, nil
	}
	rev, err := s.repo.RevisionOf(ctx, remote)
	if err != nil {
		return nil, err
	}
	candidate := branchlist.Branch{Name: name, CommitID: rev, Committer: s.o.Committer()}

	result, err := s.o.TestMerges(ctx, append(branchlist.List{candidate}, broken...), base, commitID)
	if err != nil || !result.OK {
		return nil, err
	}

	s.o.Splog().Info("%s found", remote)
	use, err := s.operator.Confirm(UsageQuery)
	if err != nil || !use {
		return nil, err
	}
	s.o.Splog().Info("Adding %s", name)
	return &candidate, nil
}

// buildResolution merges broken onto base in the working tree, waiting for
// the operator on every conflict
func (s *Strategy) buildResolution(ctx context.Context, base, commitID string, broken branchlist.List) error {
	s.o.Splog().Info("Building conflict resolution on top of %s", base)
	rev := commitID
	if rev == "" {
		rev = s.o.RemoteRef(base)
	}
	if err := s.o.ResetTestBranch(ctx, rev); err != nil {
		return err
	}

	for _, b := range broken {
		s.o.Splog().Info("Merging %s", b.Name)
		result, err := s.repo.Merge(ctx, b.CommitID, fmt.Sprintf("Merge branch '%s'", b.Name))
		if err != nil {
			return err
		}
		if result.OK {
			continue
		}
		s.operator.Show(result.Output)
		if err := s.awaitResolution(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Strategy) awaitResolution(ctx context.Context) error {
	if err := s.operator.Acknowledge(ResolveRequest); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		clean, files, err := s.repo.WorkingTreeClean(ctx)
		if err != nil {
			return err
		}
		if clean {
			return nil
		}
		s.operator.Show(strings.Join(files, "\n"))
		if err := s.operator.Acknowledge(NotFinished); err != nil {
			return err
		}
	}
}

type branchResult struct {
	branch branchlist.Branch
	ok     bool
}

// mergeStatus collects the trial merges of the requests onto one target
type mergeStatus struct {
	results  []branchResult
	combined bool
}

// OK reports whether every request merged, alone and together
func (m mergeStatus) OK() bool {
	return m.combined && len(m.Broken()) == 0
}

// Broken returns the requests that failed to merge on their own
func (m mergeStatus) Broken() branchlist.List {
	var broken branchlist.List
	for _, r := range m.results {
		if !r.ok {
			broken = append(broken, r.branch)
		}
	}
	return broken
}

func describe(target, commitID string) string {
	if commitID == "" {
		return target
	}
	return fmt.Sprintf("%s (%s)", target, commitID)
}

func logged(list branchlist.List) branchlist.List {
	result := make(branchlist.List, len(list))
	for i, b := range list {
		result[i] = b.Log()
	}
	return result
}
