package cli_test

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"shipit.dev/shipit/internal/actions/resolve"
	"shipit.dev/shipit/internal/branchlist"
	"shipit.dev/shipit/internal/cli"
	"shipit.dev/shipit/internal/cli/common"
	"shipit.dev/shipit/testhelpers"
)

// runShipit executes the command line in the scene and returns its output
func runShipit(t *testing.T, scene *testhelpers.Scene, in io.Reader, args ...string) (string, error) {
	t.Helper()
	if in == nil {
		in = strings.NewReader("")
	}
	var out bytes.Buffer
	cmd := cli.NewRootCmd("test")
	cmd.SetIn(in)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--no-color", "-C", scene.Dir))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRunShipit(t *testing.T, scene *testhelpers.Scene, in io.Reader, args ...string) string {
	t.Helper()
	out, err := runShipit(t, scene, in, args...)
	require.NoError(t, err, out)
	return out
}

// remoteRevision returns the commit of a branch on origin, or ""
func remoteRevision(t *testing.T, scene *testhelpers.Scene, branch string) string {
	t.Helper()
	out, err := scene.Repo.RunGitCommandAndGetOutput("ls-remote", "origin", "refs/heads/"+branch)
	require.NoError(t, err)
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func requestedNames(t *testing.T, scene *testhelpers.Scene, file string) []string {
	t.Helper()
	list, err := branchlist.ReadFile(filepath.Join(scene.Dir, file))
	require.NoError(t, err)
	return list.Names()
}

// deploy makes the last rebuild the new staging
func deploy(t *testing.T, scene *testhelpers.Scene) {
	t.Helper()
	rev := remoteRevision(t, scene, "predeploy_staging")
	require.NotEmpty(t, rev)
	require.NoError(t, scene.Repo.RunGitCommand("push", "-q", "-f", "origin", rev+":refs/heads/staging"))
}

// resolvingInput commits a resolution of file_a when the operator is asked
// to fix a merge
type resolvingInput struct {
	scene *testhelpers.Scene
	asked bool
}

func (r *resolvingInput) Read(p []byte) (int, error) {
	if r.asked {
		return 0, io.EOF
	}
	r.asked = true
	if err := r.scene.Repo.ResolveConflicts(map[string]string{"file_a": "resolved"}); err != nil {
		return 0, err
	}
	return copy(p, "\n"), nil
}

func newScene(t *testing.T) *testhelpers.Scene {
	t.Helper()
	return testhelpers.NewScene(t, func(s *testhelpers.Scene) error {
		if _, err := s.AddBranch("branch_a", map[string]string{"file_a": "a"}); err != nil {
			return err
		}
		if _, err := s.AddBranch("branch_b", map[string]string{"file_a": "b"}); err != nil {
			return err
		}
		_, err := s.AddBranch("branch_c", map[string]string{"file_c": "c"})
		return err
	})
}

func TestShipit(t *testing.T) {
	scene := newScene(t)

	t.Run("creates the history branch once", func(t *testing.T) {
		out := mustRunShipit(t, scene, nil, "history-branch")
		require.Contains(t, out, "Created staging_history on origin")
		require.NotEmpty(t, remoteRevision(t, scene, "staging_history"))

		out, err := runShipit(t, scene, nil, "history-branch")
		require.ErrorContains(t, err, "already exists")
		require.True(t, common.WasReported(err))
		require.Contains(t, out, "already exists")

		out = mustRunShipit(t, scene, nil, "list")
		require.Contains(t, out, "No branches in staging")
	})

	t.Run("requests branches and creates staging", func(t *testing.T) {
		out := mustRunShipit(t, scene, nil, "resolve", "branch_a", "branch_c")
		require.Contains(t, out, "Creating staging from master")
		require.Contains(t, out, "Merge successful!")
		require.Equal(t, []string{"branch_a", "branch_c"}, requestedNames(t, scene, branchlist.AdditionsFile))
		require.Empty(t, requestedNames(t, scene, branchlist.RemovalsFile))
		require.Equal(t, remoteRevision(t, scene, "master"), remoteRevision(t, scene, "staging"))
	})

	t.Run("rebuilds with the requested branches", func(t *testing.T) {
		out := mustRunShipit(t, scene, nil, "rebuild")
		require.Contains(t, out, "Done rebuilding")

		predeploy := remoteRevision(t, scene, "predeploy_staging")
		require.NotEmpty(t, predeploy)
		testhelpers.ExpectFile(t, scene.Repo, predeploy, "file_c", "c")
		testhelpers.ExpectMerged(t, scene.Repo, predeploy, "branch_a", "branch_c")
		testhelpers.ExpectBranches(t, scene.Repo, []string{"branch_a", "branch_b", "branch_c", "master", "staging_history"})

		current, err := scene.Repo.CurrentBranchName()
		require.NoError(t, err)
		require.Equal(t, "master", current)
		require.False(t, scene.Repo.BranchExists("predeploy_merge_test"))

		out = mustRunShipit(t, scene, nil, "list")
		require.Contains(t, out, "branch_a")
		require.Contains(t, out, "branch_c")
		require.Contains(t, out, "test@example.com")
		deploy(t, scene)
	})

	t.Run("has nothing to do without requests", func(t *testing.T) {
		require.NoError(t, branchlist.WriteFile(filepath.Join(scene.Dir, branchlist.AdditionsFile), nil))
		out, err := runShipit(t, scene, nil, "rebuild")
		require.Error(t, err)
		require.True(t, common.WasReported(err))
		require.Contains(t, out, "rebuild not required")
	})

	t.Run("refuses branches already in staging", func(t *testing.T) {
		out, err := runShipit(t, scene, nil, "resolve", "branch_a")
		require.EqualError(t, err, "All branches already in staging!")
		require.Contains(t, out, "All branches already in staging!")
	})

	t.Run("resolves a conflicting branch with the operator", func(t *testing.T) {
		input := &resolvingInput{scene: scene}
		out := mustRunShipit(t, scene, input, "resolve", "branch_b")
		require.True(t, input.asked)
		require.Contains(t, out, resolve.ResolveRequest)
		require.Contains(t, out, "Merge with branch_a failed!")
		require.Equal(t, []string{"conflict-branch_a+branch_b", "branch_b"}, requestedNames(t, scene, branchlist.AdditionsFile))

		testhelpers.ExpectRemoteBranches(t, scene.Repo, []string{
			"branch_a", "branch_b", "branch_c", "conflict-branch_a+branch_b",
			"master", "predeploy_staging", "staging", "staging_history",
		})
		resolution := remoteRevision(t, scene, "conflict-branch_a+branch_b")
		testhelpers.ExpectFile(t, scene.Repo, resolution, "file_a", "resolved")
		testhelpers.ExpectMerged(t, scene.Repo, resolution, "branch_a", "branch_b")
	})

	t.Run("rebuilds with the resolution", func(t *testing.T) {
		mustRunShipit(t, scene, nil, "rebuild", "--json")

		predeploy := remoteRevision(t, scene, "predeploy_staging")
		testhelpers.ExpectFile(t, scene.Repo, predeploy, "file_a", "resolved")
		testhelpers.ExpectMerged(t, scene.Repo, predeploy, "branch_a", "branch_b", "branch_c")

		out := mustRunShipit(t, scene, nil, "list", "--csv")
		require.Contains(t, out, "conflict-branch_a+branch_b,")
		require.Contains(t, out, "branch_b,")
	})
}

func TestShipitErrors(t *testing.T) {
	t.Run("requires a repository", func(t *testing.T) {
		scene := &testhelpers.Scene{Dir: t.TempDir()}
		_, err := runShipit(t, scene, nil, "rebuild")
		require.ErrorContains(t, err, "not a git repository")
		require.False(t, common.WasReported(err))
	})

	t.Run("requires the history branch", func(t *testing.T) {
		scene := newScene(t)
		out, err := runShipit(t, scene, nil, "rebuild")
		require.Error(t, err)
		require.Contains(t, out, "history branch is missing for staging!")

		out, err = runShipit(t, scene, nil, "list")
		require.Error(t, err)
		require.Contains(t, out, "history branch is missing for staging")
	})

	t.Run("requires branches to resolve", func(t *testing.T) {
		scene := &testhelpers.Scene{Dir: t.TempDir()}
		_, err := runShipit(t, scene, nil, "resolve")
		require.ErrorContains(t, err, "requires at least 1 arg")
	})

	t.Run("rejects invalid configuration", func(t *testing.T) {
		scene := newScene(t)
		_, err := runShipit(t, scene, nil, "rebuild", "--target", "master")
		require.ErrorContains(t, err, "target and trunk must differ")
	})
}
