// Package testhelpers provides testing utilities for shipit: git scenes with
// a bare remote, an in-memory repository, a scripted operator and custom
// assertions.
package testhelpers

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Must is a generic helper function that panics if err is not nil,
// otherwise returns the value
func Must[T any](val T, err error) T {
	if err != nil {
		panic(err)
	}
	return val
}

// ExpectBranches asserts that the repository has exactly the expected local branches
func ExpectBranches(t *testing.T, repo *GitRepo, expected []string) {
	t.Helper()
	require.Equal(t, sorted(expected), listRefs(t, repo, "refs/heads/"), "Branches do not match")
}

// ExpectRemoteBranches asserts that origin has exactly the expected branches
func ExpectRemoteBranches(t *testing.T, repo *GitRepo, expected []string) {
	t.Helper()
	out, err := repo.RunGitCommandAndGetOutput("ls-remote", "--heads", "origin")
	require.NoError(t, err, "Failed to list remote branches")

	var branches []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 {
			branches = append(branches, strings.TrimPrefix(fields[1], "refs/heads/"))
		}
	}
	sort.Strings(branches)
	require.Equal(t, sorted(expected), branches, "Remote branches do not match")
}

// ExpectFile asserts the contents of a file at a revision
func ExpectFile(t *testing.T, repo *GitRepo, rev, path, expected string) {
	t.Helper()
	content, err := repo.ShowFile(rev, path)
	require.NoError(t, err, "Failed to read %s at %s", path, rev)
	require.Equal(t, expected, content)
}

// ExpectMerged asserts that every branch is contained in rev
func ExpectMerged(t *testing.T, repo *GitRepo, rev string, branches ...string) {
	t.Helper()
	for _, b := range branches {
		require.NoError(t, repo.RunGitCommand("merge-base", "--is-ancestor", b, rev), "%s is not merged into %s", b, rev)
	}
}

func listRefs(t *testing.T, repo *GitRepo, prefix string) []string {
	t.Helper()
	out, err := repo.RunGitCommandAndGetOutput("for-each-ref", prefix, "--format=%(refname:short)")
	require.NoError(t, err, "Failed to list branches")

	var refs []string
	for _, ref := range strings.Split(out, "\n") {
		if ref = strings.TrimSpace(ref); ref != "" {
			refs = append(refs, ref)
		}
	}
	sort.Strings(refs)
	return refs
}

func sorted(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}
