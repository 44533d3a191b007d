package engine

import (
	"context"
	"fmt"
	"strings"

	"shipit.dev/shipit/internal/branchlist"
)

// conflictFileField maps git conflict kinds to the field of the CONFLICT line
// naming the file. Negative indexes count from the end.
var conflictFileField = map[string]int{
	"(content):":       -1,
	"(add/add):":       5,
	"(modify/delete):": 2,
}

// ClassifyConflicts extracts the conflicting files from git merge output.
// CONFLICT lines of unknown kinds are kept verbatim.
func ClassifyConflicts(output string) string {
	var reasons []string
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, "CONFLICT") {
			continue
		}
		line = strings.TrimSpace(line)
		fields := strings.Fields(line)
		reason := line
		if len(fields) > 1 {
			if index, ok := conflictFileField[fields[1]]; ok {
				if index < 0 {
					index += len(fields)
				}
				if index >= 0 && index < len(fields) {
					reason = fields[index]
				}
			}
		}
		reasons = append(reasons, reason)
	}
	return strings.Join(reasons, ", ")
}

// MergeOutcome partitions the candidates of a MassMerge
type MergeOutcome struct {
	// Merged branches, in merge order
	Merged branchlist.List
	// Bad branches conflicted, with the conflicting files as reason
	Bad branchlist.List
	// Skipped resolutions lacked one of their base branches
	Skipped branchlist.List
}

// FilterInMaster drops branches already merged into the remote trunk
func (o *Orchestrator) FilterInMaster(ctx context.Context, list branchlist.List) (branchlist.List, error) {
	trunk := o.RemoteRef(o.repo.Trunk())
	var remaining branchlist.List
	for _, b := range list {
		in, err := o.repo.IsAncestor(ctx, b.CommitID, trunk)
		if err != nil {
			return nil, err
		}
		if in {
			o.splog.Info("Skipping %s - merged into %s", b.Name, o.repo.Trunk())
			continue
		}
		remaining = append(remaining, b)
	}
	return remaining, nil
}

// MissingParts returns the base branches of a resolution that are not present
func (o *Orchestrator) MissingParts(b *branchlist.Branch, present map[string]bool) []string {
	return o.graph.Missing(*b, present)
}

// MassMerge merges candidates one after another on top of the test branch.
//
// current lists the branches already accounted for; together with the
// candidates it forms the set of names resolutions may depend on. A
// resolution whose base branches are missing is skipped, a conflicting
// branch is reported bad and its name no longer counts as present. The test
// branch ends up at the last clean merge.
func (o *Orchestrator) MassMerge(ctx context.Context, candidates, current branchlist.List, missing MissingFunc) (MergeOutcome, error) {
	var outcome MergeOutcome
	if missing == nil {
		missing = o.MissingParts
	}

	candidates, err := o.FilterInMaster(ctx, candidates)
	if err != nil {
		return outcome, err
	}

	present := current.NameSet()
	for _, b := range candidates {
		present[b.Name] = true
	}

	tip, err := o.repo.RevisionOf(ctx, TestBranch)
	if err != nil {
		return outcome, err
	}

	for _, candidate := range candidates {
		b := candidate
		if parts := missing(&b, present); len(parts) > 0 {
			names := strings.Join(parts, ",")
			o.splog.Info("Dropping %s - %s not in %s anymore", b.Name, names, o.repo.Target())
			delete(present, b.Name)
			outcome.Skipped = append(outcome.Skipped, b.WithReason(fmt.Sprintf("%s not in %s", names, o.repo.Target())))
			continue
		}

		result, err := o.repo.TrialMerge(ctx, tip, []string{b.CommitID}, fmt.Sprintf("Merge branch '%s'", b.Name))
		if err != nil {
			return outcome, err
		}
		if result.OK {
			tip = result.Revision
			o.splog.Info("Merged %s (%s)", b.Name, b.CommitID)
			outcome.Merged = append(outcome.Merged, b)
			continue
		}

		o.splog.Info("Skipping %s (%s) - doesn't merge cleanly", b.Name, b.CommitID)
		delete(present, b.Name)
		outcome.Bad = append(outcome.Bad, b.WithReason(ClassifyConflicts(result.Output)))
	}

	if err := o.repo.ForceSetRef(ctx, TestBranch, tip); err != nil {
		return outcome, err
	}
	return outcome, nil
}
