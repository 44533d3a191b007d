package git_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"shipit.dev/shipit/internal/branchlist"
	"shipit.dev/shipit/internal/engine"
	"shipit.dev/shipit/internal/git"
	"shipit.dev/shipit/testhelpers"
)

type branches struct {
	a, b, c string
}

// newScene creates three branches: a and b both add file_a, c adds file_c
func newScene(t *testing.T) (*testhelpers.Scene, *git.Session, branches) {
	t.Helper()
	var revs branches
	scene := testhelpers.NewScene(t, func(s *testhelpers.Scene) error {
		var err error
		if revs.a, err = s.AddBranch("branch_a", map[string]string{"file_a": "a"}); err != nil {
			return err
		}
		if revs.b, err = s.AddBranch("branch_b", map[string]string{"file_a": "b"}); err != nil {
			return err
		}
		revs.c, err = s.AddBranch("branch_c", map[string]string{"file_c": "c"})
		return err
	})
	session, err := git.NewSession(git.SessionOptions{Dir: scene.Dir})
	require.NoError(t, err)
	return scene, session, revs
}

func TestSessionHistory(t *testing.T) {
	ctx := context.Background()
	scene, session, revs := newScene(t)

	require.NoError(t, session.InitHistory(ctx))
	require.NoError(t, session.Sync(ctx))
	list, err := session.ReadHistory(ctx)
	require.NoError(t, err)
	require.Empty(t, list)

	entries := branchlist.List{
		{Name: "branch_a", CommitID: revs.a, Committer: "test@example.com", Reason: "dropped"},
		{Name: "branch_c", CommitID: revs.c, Committer: "test@example.com"},
	}
	require.NoError(t, session.AppendHistory(ctx, "test@example.com\n\nMaster: abc", entries))
	require.NoError(t, session.Sync(ctx))

	list, err = session.ReadHistory(ctx)
	require.NoError(t, err)
	require.Equal(t, branchlist.List{entries[0].Log(), entries[1]}, list)

	message, err := session.HistoryMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, "test@example.com\n\nMaster: abc", strings.TrimSpace(message))
	count, err := scene.Repo.RunGitCommandAndGetOutput("rev-list", "--count", "origin/staging_history")
	require.NoError(t, err)
	require.Equal(t, "2", count)

	require.ErrorContains(t, session.InitHistory(ctx), "already exists")
}

func TestSessionTrialMerge(t *testing.T) {
	ctx := context.Background()
	scene, session, revs := newScene(t)
	master, err := scene.Repo.GetRevision("master")
	require.NoError(t, err)

	t.Run("merges cleanly without touching branches", func(t *testing.T) {
		result, err := session.TrialMerge(ctx, "origin/master", []string{revs.a, revs.c}, "testing merge")
		require.NoError(t, err)
		require.True(t, result.OK)

		content, err := scene.Repo.ShowFile(result.Revision, "file_c")
		require.NoError(t, err)
		require.Equal(t, "c", content)
		in, err := session.IsAncestor(ctx, revs.a, result.Revision)
		require.NoError(t, err)
		require.True(t, in)

		current, err := scene.Repo.GetRevision("master")
		require.NoError(t, err)
		require.Equal(t, master, current)
		clean, _, err := session.WorkingTreeClean(ctx)
		require.NoError(t, err)
		require.True(t, clean)
	})

	t.Run("reports conflicts", func(t *testing.T) {
		result, err := session.TrialMerge(ctx, "origin/master", []string{revs.a, revs.b}, "testing merge")
		require.NoError(t, err)
		require.False(t, result.OK)
		require.Equal(t, "file_a", engine.ClassifyConflicts(result.Output))
	})
}

func TestSessionRefs(t *testing.T) {
	ctx := context.Background()
	scene, session, revs := newScene(t)

	t.Run("ancestry", func(t *testing.T) {
		in, err := session.IsAncestor(ctx, "origin/master", "branch_a")
		require.NoError(t, err)
		require.True(t, in)

		in, err = session.IsAncestor(ctx, "branch_a", "origin/master")
		require.NoError(t, err)
		require.False(t, in)

		in, err = session.IsAncestor(ctx, "origin/nope", "branch_a")
		require.NoError(t, err)
		require.False(t, in)
	})

	t.Run("resolves names", func(t *testing.T) {
		name, ok := session.ResolveName(ctx, "origin/branch_a")
		require.True(t, ok)
		require.Equal(t, "branch_a", name)

		_, ok = session.ResolveName(ctx, "origin/nope")
		require.False(t, ok)

		name, ok = session.ResolveName(ctx, "branch_b")
		require.True(t, ok)
		require.Equal(t, "branch_b", name)

		name, ok = session.ResolveName(ctx, revs.c)
		require.True(t, ok)
		require.Contains(t, name, "branch_c")

		rev, err := session.RevisionOf(ctx, "origin/branch_a")
		require.NoError(t, err)
		require.Equal(t, revs.a, rev)
	})

	t.Run("lists remote branches", func(t *testing.T) {
		names, err := session.RemoteBranches()
		require.NoError(t, err)
		require.Equal(t, []string{"branch_a", "branch_b", "branch_c", "master"}, names)
		require.True(t, session.HasRemoteBranch("branch_a"))
		require.False(t, session.HasRemoteBranch("staging"))
	})

	t.Run("moves, renames and drops branches", func(t *testing.T) {
		require.NoError(t, session.ForceSetRef(ctx, engine.TestBranch, "origin/master"))
		require.NoError(t, session.Checkout(ctx, engine.TestBranch))
		require.NoError(t, session.ForceSetRef(ctx, engine.TestBranch, revs.a))
		_, err := os.Stat(filepath.Join(scene.Dir, "file_a"))
		require.NoError(t, err)

		require.NoError(t, session.RenameBranch(ctx, engine.TestBranch, "renamed"))
		current, err := session.StartingBranch(ctx)
		require.NoError(t, err)
		require.Equal(t, "renamed", current)
		require.Error(t, session.DropBranch(ctx, "renamed"))

		require.NoError(t, session.Checkout(ctx, "master"))
		require.NoError(t, session.DropBranch(ctx, "renamed"))
		require.False(t, scene.Repo.BranchExists("renamed"))
	})

	t.Run("pushes and deletes remote branches", func(t *testing.T) {
		require.NoError(t, session.ForcePush(ctx, revs.a, "staging"))
		remote, err := scene.Repo.RunGitCommandAndGetOutput("ls-remote", "origin", "refs/heads/staging")
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(remote, revs.a))
		_, ok := session.ResolveName(ctx, "origin/staging")
		require.True(t, ok)

		require.NoError(t, session.DeleteRemoteRef(ctx, "staging"))
		remote, err = scene.Repo.RunGitCommandAndGetOutput("ls-remote", "origin", "refs/heads/staging")
		require.NoError(t, err)
		require.Empty(t, remote)
		require.NoError(t, session.DeleteRemoteRef(ctx, "staging"))
	})
}

func TestSessionWorkingTree(t *testing.T) {
	ctx := context.Background()
	scene, session, revs := newScene(t)

	t.Run("ignores untracked files", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(scene.Dir, "untracked"), []byte("x"), 0600))
		clean, files, err := session.WorkingTreeClean(ctx)
		require.NoError(t, err)
		require.True(t, clean)
		require.Empty(t, files)
	})

	t.Run("reports modified files", func(t *testing.T) {
		path := filepath.Join(scene.Dir, "zero_file")
		require.NoError(t, os.WriteFile(path, []byte("changed"), 0600))
		clean, files, err := session.WorkingTreeClean(ctx)
		require.NoError(t, err)
		require.False(t, clean)
		require.Equal(t, []string{"zero_file"}, files)
		require.NoError(t, scene.Repo.RunGitCommand("checkout", "--", "zero_file"))
	})

	t.Run("leaves conflicts for manual resolution", func(t *testing.T) {
		require.NoError(t, session.Checkout(ctx, "branch_a"))
		result, err := session.Merge(ctx, revs.b, "Merge branch 'branch_b'")
		require.NoError(t, err)
		require.False(t, result.OK)
		require.Contains(t, result.Output, "CONFLICT")

		clean, files, err := session.WorkingTreeClean(ctx)
		require.NoError(t, err)
		require.False(t, clean)
		require.Contains(t, files, "file_a")

		require.NoError(t, session.ClearMerge(ctx))
		clean, _, err = session.WorkingTreeClean(ctx)
		require.NoError(t, err)
		require.True(t, clean)
		require.NoError(t, session.ClearMerge(ctx))
	})

	t.Run("records clean merges", func(t *testing.T) {
		result, err := session.Merge(ctx, revs.c, "Merge branch 'branch_c'")
		require.NoError(t, err)
		require.True(t, result.OK)

		head, err := scene.Repo.GetRevision("branch_a")
		require.NoError(t, err)
		require.Equal(t, head, result.Revision)
		parents, err := scene.Repo.RunGitCommandAndGetOutput("rev-list", "--parents", "-n1", head)
		require.NoError(t, err)
		require.Len(t, strings.Fields(parents), 3)
		require.NoError(t, session.Checkout(ctx, "master"))
	})
}
