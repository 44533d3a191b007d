// Package errors provides sentinel errors and custom error types for shipit.
// Use errors.Is() and errors.As() to check for specific error types.
package errors

import (
	"errors"
	"fmt"
	"os/exec"
)

// Precondition failures abort a run before anything is mutated
var (
	// ErrDirtyWorkingTree indicates uncommitted changes or an unfinished merge
	ErrDirtyWorkingTree = errors.New("working tree is not clean")

	// ErrReservedBranch indicates the run was started on the merge test branch
	ErrReservedBranch = errors.New("current branch is reserved for merge testing")

	// ErrHistoryMissing indicates the remote history branch does not exist
	ErrHistoryMissing = errors.New("history branch is missing")

	// ErrCommitterUnset indicates git has no usable committer email
	ErrCommitterUnset = errors.New("committer email not set in git")
)

// Request failures
var (
	// ErrNoChanges indicates there is nothing new to build. It is an expected
	// outcome and is reported without detail.
	ErrNoChanges = errors.New("no changes")

	// ErrNoBranchesResolved indicates none of the requested branches exist
	ErrNoBranchesResolved = errors.New("Unable to resolve any branches!")

	// ErrBranchesMissing indicates some of the requested branches do not exist
	ErrBranchesMissing = errors.New("Couldn't resolve some branches. Use -f to ignore.")

	// ErrAllInTarget indicates every requested branch is already tracked.
	// Wrapped with the target name.
	ErrAllInTarget = errors.New("All branches already in")

	// ErrIncludesTarget indicates a requested branch already contains the
	// target. Wrapped with the target and the offending branches.
	ErrIncludesTarget = errors.New("Branch(es) includes")

	// ErrMasterConflict indicates a requested branch does not merge with the
	// trunk. Wrapped with the branch names.
	ErrMasterConflict = errors.New("Merge/rebase the following with master")

	// ErrResolutionAborted indicates the operator did not finish a manual resolution
	ErrResolutionAborted = errors.New("conflict resolution aborted")
)

// NoChangesError describes why a run had nothing to do
type NoChangesError struct {
	Message string
}

func (e *NoChangesError) Error() string {
	return e.Message
}

// Is returns true if the target error is ErrNoChanges
func (e *NoChangesError) Is(target error) bool {
	return target == ErrNoChanges
}

// NewNoChangesError creates a new NoChangesError
func NewNoChangesError(format string, args ...interface{}) *NoChangesError {
	return &NoChangesError{Message: fmt.Sprintf(format, args...)}
}

// GitCommandError represents an error from a git command execution
type GitCommandError struct {
	Command string
	Args    []string
	Stdout  string
	Stderr  string
	Err     error
}

func (e *GitCommandError) Error() string {
	msg := fmt.Sprintf("git command failed: %s", e.Command)
	if len(e.Args) > 0 {
		msg += fmt.Sprintf(" %v", e.Args)
	}
	if e.Stderr != "" {
		msg += fmt.Sprintf("\nstderr: %s", e.Stderr)
	}
	if e.Stdout != "" {
		msg += fmt.Sprintf("\nstdout: %s", e.Stdout)
	}
	if e.Err != nil {
		msg += fmt.Sprintf("\n%v", e.Err)
	}
	return msg
}

func (e *GitCommandError) Unwrap() error {
	return e.Err
}

// ExitCode returns the exit status of the command, or -1 when it did not run
// to completion
func (e *GitCommandError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Output returns stdout followed by stderr
func (e *GitCommandError) Output() string {
	return e.Stdout + e.Stderr
}

// NewGitCommandError creates a new GitCommandError
func NewGitCommandError(command string, args []string, stdout, stderr string, err error) *GitCommandError {
	return &GitCommandError{
		Command: command,
		Args:    args,
		Stdout:  stdout,
		Stderr:  stderr,
		Err:     err,
	}
}
