// Package rebuild rebuilds the staging branch from the tracked list and the
// pending change requests.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"shipit.dev/shipit/internal/branchlist"
	"shipit.dev/shipit/internal/engine"
	shipiterrors "shipit.dev/shipit/internal/errors"
	"shipit.dev/shipit/internal/report"
)

// Options contains options for the rebuild command
type Options struct {
	// Force rebuilds from master even when nothing changed
	Force bool
	// Push publishes the result and records it in the ledger
	Push bool
	// Structured writes the failure report to ReportFile instead of the log
	Structured bool
	ReportFormat report.Format
	// DelayedDrop keeps resolutions whose base branch was merged to master
	// for one more rebuild
	DelayedDrop bool

	AdditionsFile string
	RemovalsFile  string
	ReportFile    string
}

func (o *Options) setDefaults() {
	if o.AdditionsFile == "" {
		o.AdditionsFile = branchlist.AdditionsFile
	}
	if o.RemovalsFile == "" {
		o.RemovalsFile = branchlist.RemovalsFile
	}
	if o.ReportFile == "" {
		o.ReportFile = report.DefaultFile
	}
	if o.ReportFormat == "" {
		o.ReportFormat = report.FormatJSON
	}
}

// Strategy rebuilds the staging branch
type Strategy struct {
	o    *engine.Orchestrator
	repo engine.Repository
	opts Options

	force     bool
	old       branchlist.List
	branches  branchlist.List
	additions branchlist.List
	removals  branchlist.List
	inMaster  map[string]bool
	// archived holds dropped resolutions by base branch, to be retried when
	// that branch is added again
	archived map[string]branchlist.List
}

var _ engine.Strategy = (*Strategy)(nil)

// New creates a rebuild strategy on top of an orchestrator
func New(o *engine.Orchestrator, opts Options) *Strategy {
	opts.setDefaults()
	return &Strategy{
		o:        o,
		repo:     o.Repo(),
		opts:     opts,
		inMaster: make(map[string]bool),
		archived: make(map[string]branchlist.List),
	}
}

// Branches returns the list built by the run
func (s *Strategy) Branches() branchlist.List {
	return s.branches
}

// Load reads the tracked list and the addition and removal requests
func (s *Strategy) Load(ctx context.Context) error {
	branches, err := s.o.LoadBranches(ctx)
	if err != nil {
		return err
	}
	s.branches = branches

	requested, err := branchlist.ReadFile(s.opts.AdditionsFile)
	if err != nil {
		return err
	}
	s.additions = latestByName(requested.Without(branches))

	removals, err := branchlist.ReadFile(s.opts.RemovalsFile)
	if err != nil {
		return err
	}
	if removals.IsAll() {
		s.removals = branches.Clone()
		s.force = true
	} else {
		s.removals = removals
	}
	return nil
}

// DetermineScope decides whether a full rebuild is needed and drops tracked
// branches that no longer exist on the remote
func (s *Strategy) DetermineScope(ctx context.Context) error {
	trunk := s.o.RemoteRef(s.repo.Trunk())
	current, err := s.repo.IsAncestor(ctx, trunk, s.o.RemoteRef(s.repo.Target()))
	if err != nil {
		return err
	}
	s.force = s.force || s.opts.Force || !current
	s.old = s.branches

	var gone branchlist.List
	var remaining branchlist.List
	for _, b := range s.branches {
		in, err := s.repo.IsAncestor(ctx, b.CommitID, trunk)
		if err != nil {
			return err
		}
		if in {
			s.inMaster[b.Name] = true
		}
		if _, ok := s.repo.ResolveName(ctx, s.o.RemoteRef(b.Name)); !ok {
			gone = append(gone, b)
			continue
		}
		remaining = append(remaining, b)
	}
	s.branches = remaining
	if len(gone) > 0 {
		s.o.Splog().Info("Disappeared: %s", strings.Join(gone.Names(), ", "))
	}

	if !s.force && len(s.additions) == 0 && len(s.removals) == 0 {
		return shipiterrors.NewNoChangesError("%s based on current master and no additions/removals requested, rebuild not required.", s.repo.Target())
	}
	return nil
}

// Execute merges the stable branches and layers the additions on top
func (s *Strategy) Execute(ctx context.Context) error {
	if err := s.setupTestBranch(ctx); err != nil {
		return err
	}
	if err := s.addNewBranches(ctx); err != nil {
		return err
	}
	return s.reportBadBranches()
}

// Publish pushes the test branch and appends the ledger entry when the list
// changed
func (s *Strategy) Publish(ctx context.Context) error {
	if !s.force && s.old.Equal(s.branches) {
		return shipiterrors.NewNoChangesError("No changes made to %s - rebuild failed", s.repo.Target())
	}

	splog := s.o.Splog()
	if !s.opts.Push {
		splog.Info("Leaving locally")
		splog.Info("Done rebuilding")
		return nil
	}

	predeploy := "predeploy_" + s.repo.Target()
	if err := s.repo.DeleteRemoteRef(ctx, predeploy); err != nil {
		return err
	}
	if err := s.repo.ForcePush(ctx, engine.TestBranch, predeploy); err != nil {
		return err
	}

	master, err := s.repo.RevisionOf(ctx, s.o.RemoteRef(s.repo.Trunk()))
	if err != nil {
		return err
	}
	subject := s.o.Committer()
	if s.opts.Force {
		subject += " - FORCED"
	}
	message := fmt.Sprintf("%s\n\nMaster: %s", subject, master)
	if err := s.repo.AppendHistory(ctx, message, s.branches); err != nil {
		return fmt.Errorf("failed to record %s: %w", s.repo.HistoryBranch(), err)
	}
	splog.Info("Done rebuilding")
	return nil
}

// stableBranches returns the tracked branches not affected by a change
// request. Resolutions depending on a branch that is gone are archived,
// unless the branch is being re-added and the resolution is still needed by
// its present side.
func (s *Strategy) stableBranches() branchlist.List {
	graph := s.o.Graph()
	addNames := s.additions.NameSet()

	branches := s.branches.Without(s.removals).WithoutNames(addNames)
	baseNames := make(map[string]bool)
	for _, b := range branches {
		if !graph.IsResolution(b.Name) {
			baseNames[b.Name] = true
		}
	}

	uses := make(map[string]int)
	for _, b := range branches {
		components := graph.Components(b.Name)
		if !intersects(components, baseNames) {
			continue
		}
		for _, name := range components {
			uses[name]++
		}
	}

	var stable branchlist.List
	for _, b := range branches {
		components := graph.Components(b.Name)
		var missing, present []string
		for _, name := range components {
			if baseNames[name] {
				present = append(present, name)
			} else {
				missing = append(missing, name)
			}
		}
		if len(missing) == 0 {
			stable = append(stable, b)
			continue
		}
		if subset(missing, addNames) && maxUses(present, uses) > maxUses(missing, uses) {
			stable = append(stable, b)
			continue
		}
		s.archive(b)
	}
	return stable
}

func (s *Strategy) archive(b branchlist.Branch) {
	s.o.Splog().Debug("Archiving %s", b.Name)
	for _, name := range s.o.Graph().Components(b.Name) {
		s.archived[name] = append(s.archived[name], b)
	}
}

func (s *Strategy) setupTestBranch(ctx context.Context) error {
	stable := s.stableBranches()
	if !s.force && len(s.old) <= len(stable) {
		return s.o.ResetTestBranch(ctx, s.o.RemoteRef(s.repo.Target()))
	}

	s.o.Splog().Info("Rebuilding %s", s.repo.Target())
	if err := s.o.ResetTestBranch(ctx, s.o.RemoteRef(s.repo.Trunk())); err != nil {
		return err
	}
	var current branchlist.List
	for _, b := range stable {
		if !s.inMaster[b.Name] {
			current = append(current, b)
		}
	}
	outcome, err := s.o.MassMerge(ctx, stable, current, s.missing)
	if err != nil {
		return err
	}
	s.branches = outcome.Merged
	s.o.Report().Collect(outcome.Bad, report.SubjectConflictedWithMaster)
	return nil
}

// addNewBranches merges every addition, each preceded by the archived
// resolutions of its base branches, widest first
func (s *Strategy) addNewBranches(ctx context.Context) error {
	if len(s.additions) == 0 {
		return nil
	}
	s.o.Splog().Info("Adding new branches")

	graph := s.o.Graph()
	var candidates branchlist.List
	for _, b := range s.additions {
		var resolutions branchlist.List
		for _, name := range graph.Parts(b.Name) {
			resolutions = append(resolutions, s.archived[name]...)
		}
		resolutions = resolutions.Dedup()
		sort.SliceStable(resolutions, func(i, j int) bool {
			return len(graph.Components(resolutions[i].Name)) > len(graph.Components(resolutions[j].Name))
		})
		candidates = append(candidates, resolutions...)
		candidates = append(candidates, b)
	}

	outcome, err := s.o.MassMerge(ctx, candidates.Dedup(), s.branches, s.missing)
	if err != nil {
		return err
	}
	s.branches = append(s.branches, outcome.Merged...)
	s.o.Report().Collect(outcome.Bad, report.SubjectConflictedWith(s.repo.Target()))
	return nil
}

// missing reports the base branches a resolution lacks. Branches about to be
// added count as present. With delayed drop, base branches merged to master
// count as present for this rebuild only.
func (s *Strategy) missing(b *branchlist.Branch, present map[string]bool) []string {
	parts := s.o.MissingParts(b, present)
	if len(parts) == 0 || subset(parts, s.additions.NameSet()) {
		return nil
	}
	s.o.Splog().Debug("Missing for %s: %s", b.Name, strings.Join(parts, ", "))
	if !s.opts.DelayedDrop {
		return parts
	}

	var deferred, remaining []string
	for _, name := range parts {
		if s.inMaster[name] {
			deferred = append(deferred, name)
		} else {
			remaining = append(remaining, name)
		}
	}
	if len(deferred) > 0 {
		b.Reason = strings.Join(deferred, ", ")
		s.o.Report().Collect(branchlist.List{*b}, report.SubjectDelayedDrop)
	}
	return remaining
}

func (s *Strategy) reportBadBranches() error {
	r := s.o.Report()
	if s.opts.Structured {
		return r.WriteFile(s.opts.ReportFile, s.opts.ReportFormat)
	}
	for _, line := range r.Lines() {
		s.o.Splog().Error("%s", line)
	}
	if err := os.Remove(s.opts.ReportFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove old report: %w", err)
	}
	return nil
}

// latestByName keeps one request per branch name, at the position of its
// first occurrence but with the latest record
func latestByName(list branchlist.List) branchlist.List {
	index := make(map[string]int)
	var result branchlist.List
	for _, b := range list {
		if i, ok := index[b.Name]; ok {
			result[i] = b
			continue
		}
		index[b.Name] = len(result)
		result = append(result, b)
	}
	return result
}

func intersects(names []string, set map[string]bool) bool {
	for _, name := range names {
		if set[name] {
			return true
		}
	}
	return false
}

func subset(names []string, set map[string]bool) bool {
	for _, name := range names {
		if !set[name] {
			return false
		}
	}
	return true
}

// maxUses returns the highest usage count among names, 0 for none
func maxUses(names []string, uses map[string]int) int {
	result := 0
	for _, name := range names {
		if uses[name] > result {
			result = uses[name]
		}
	}
	return result
}
