package engine

import (
	"context"
	"fmt"
)

const maxRenameRetries = 10

// RenameWithRetry renames the test branch to name. When forced, an existing
// branch of that name is dropped first; otherwise a taken name is retried with
// a numeric suffix. The name finally used is returned.
func (o *Orchestrator) RenameWithRetry(ctx context.Context, name string, force bool) (string, error) {
	if force {
		if err := o.repo.DropBranch(ctx, name); err != nil {
			o.splog.Debug("Nothing to drop for %s: %v", name, err)
		}
	}

	candidate := name
	for retry := 1; ; retry++ {
		err := o.repo.RenameBranch(ctx, TestBranch, candidate)
		if err == nil {
			return candidate, nil
		}
		if retry > maxRenameRetries {
			return "", fmt.Errorf("failed to rename %s to %s: %w", TestBranch, name, err)
		}
		candidate = fmt.Sprintf("%s%d", name, retry)
	}
}
