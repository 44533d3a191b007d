package resolve_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"shipit.dev/shipit/internal/actions/resolve"
	"shipit.dev/shipit/internal/branchlist"
	"shipit.dev/shipit/internal/engine"
	shipiterrors "shipit.dev/shipit/internal/errors"
	"shipit.dev/shipit/internal/output"
	"shipit.dev/shipit/internal/resolution"
	"shipit.dev/shipit/testhelpers"
)

type fixture struct {
	repo *testhelpers.MemRepo
	dir  string
	log  bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{repo: testhelpers.NewMemRepo(), dir: t.TempDir()}
}

func (f *fixture) resolve(t *testing.T, operator *testhelpers.ScriptedOperator, opts resolve.Options) (*resolve.Strategy, error) {
	t.Helper()
	opts.AdditionsFile = filepath.Join(f.dir, branchlist.AdditionsFile)
	opts.RemovalsFile = filepath.Join(f.dir, branchlist.RemovalsFile)

	f.log.Reset()
	splog, err := output.New(output.Options{Writer: &f.log, Verbose: true})
	require.NoError(t, err)
	o := engine.NewOrchestrator(f.repo, splog, engine.Options{})
	s := resolve.New(o, operator, opts)
	return s, o.Run(context.Background(), s)
}

func (f *fixture) mustResolve(t *testing.T, operator *testhelpers.ScriptedOperator, names ...string) (branchlist.List, branchlist.List) {
	t.Helper()
	_, err := f.resolve(t, operator, resolve.Options{Branches: names})
	require.NoError(t, err, f.log.String())
	return f.requested(t)
}

// requested reads back the request files
func (f *fixture) requested(t *testing.T) (branchlist.List, branchlist.List) {
	t.Helper()
	additions, err := branchlist.ReadFile(filepath.Join(f.dir, branchlist.AdditionsFile))
	require.NoError(t, err)
	removals, err := branchlist.ReadFile(filepath.Join(f.dir, branchlist.RemovalsFile))
	require.NoError(t, err)
	return additions, removals
}

func (f *fixture) buildStaging(names ...string) branchlist.List {
	f.repo.PushRef("master", "staging")
	var list branchlist.List
	for _, name := range names {
		b := f.repo.AddBranch(name, map[string]string{fileOf(name): name})
		f.repo.Stage(b)
		list = append(list, b)
	}
	return list
}

func (f *fixture) conflictingBranch(origin branchlist.Branch, name string) (branchlist.Branch, branchlist.Branch) {
	b := f.repo.AddBranch(name, map[string]string{fileOf(origin.Name): name})
	res := f.repo.BuildResolution(resolution.DefaultScheme().Name(origin.Name, name), origin.CommitID, b)
	return res, b
}

func fileOf(name string) string {
	return "file_" + name[len(name)-1:]
}

func TestResolve(t *testing.T) {
	t.Run("resolves a single branch and creates staging", func(t *testing.T) {
		f := newFixture(t)
		a := f.repo.AddBranch("branch_a", map[string]string{"file_a": "a"})

		additions, removals := f.mustResolve(t, testhelpers.NewScriptedOperator(), "branch_a")
		require.Equal(t, branchlist.List{a}, additions)
		require.Empty(t, removals)

		staging, ok := f.repo.RemoteBranch("staging")
		require.True(t, ok)
		master, _ := f.repo.RemoteBranch("master")
		require.Equal(t, master, staging)
		require.Empty(t, f.repo.Merges)
	})

	t.Run("resolves when staging equals master", func(t *testing.T) {
		f := newFixture(t)
		f.repo.PushRef("master", "staging")
		a := f.repo.AddBranch("branch_a", map[string]string{"file_a": "a"})

		additions, _ := f.mustResolve(t, testhelpers.NewScriptedOperator(), "branch_a")
		require.Equal(t, branchlist.List{a}, additions)
		require.NotContains(t, f.log.String(), "Rebuilding staging")
	})

	t.Run("resolves several branches", func(t *testing.T) {
		f := newFixture(t)
		a := f.repo.AddBranch("branch_a", map[string]string{"file_a": "a"})
		b := f.repo.AddBranch("branch_b", map[string]string{"file_b": "b"})

		additions, _ := f.mustResolve(t, testhelpers.NewScriptedOperator(), "branch_a", "branch_b")
		require.Equal(t, branchlist.List{a, b}, additions)
	})

	t.Run("accepts fast-forward updates of tracked branches", func(t *testing.T) {
		f := newFixture(t)
		f.buildStaging("branch_a", "branch_b")
		a := f.repo.CommitFiles("branch_a", map[string]string{"file_x": "x"})

		additions, removals := f.mustResolve(t, testhelpers.NewScriptedOperator(), "branch_a")
		require.Equal(t, branchlist.List{a}, additions)
		require.Empty(t, removals)
		require.NotContains(t, f.log.String(), "Rebuilding staging without rewritten branches")
	})

	t.Run("rebuilds staging without rewritten branches", func(t *testing.T) {
		f := newFixture(t)
		f.buildStaging("branch_a", "branch_b", "branch_c")
		a := f.repo.AddBranch("branch_a", map[string]string{"file_a": "rewritten"})

		additions, removals := f.mustResolve(t, testhelpers.NewScriptedOperator(), "branch_a")
		require.Equal(t, branchlist.List{a}, additions)
		require.Empty(t, removals)
		require.Contains(t, f.log.String(), "Rebuilding staging without rewritten branches")
		require.Contains(t, f.log.String(), "Merge successful!")
		require.Empty(t, f.repo.Merges)
	})

	t.Run("skips conflicting branches in the rebuild", func(t *testing.T) {
		f := newFixture(t)
		f.buildStaging("branch_a", "branch_b", "branch_c")
		rewritten := f.repo.AddBranch("branch_a", map[string]string{"file_a": "rewritten"})
		f.repo.MergeToTrunk(rewritten.CommitID)
		b := f.repo.AddBranch("branch_b", map[string]string{"file_b": "rewritten"})

		additions, removals := f.mustResolve(t, testhelpers.NewScriptedOperator(), "branch_b")
		require.Equal(t, branchlist.List{b}, additions)
		require.Empty(t, removals)
		require.Contains(t, f.log.String(), "Skipping branch_a")
	})

	t.Run("returns to the starting branch", func(t *testing.T) {
		f := newFixture(t)
		f.repo.AddBranch("branch_a", map[string]string{"file_a": "a"})

		f.mustResolve(t, testhelpers.NewScriptedOperator(), "branch_a")
		require.Equal(t, "master", f.repo.CurrentBranch())
		require.False(t, f.repo.HasBranch(engine.TestBranch))
	})
}

func TestResolveValidation(t *testing.T) {
	t.Run("fails when no branch resolves", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.resolve(t, testhelpers.NewScriptedOperator(), resolve.Options{Branches: []string{"nope"}})
		require.ErrorIs(t, err, shipiterrors.ErrNoBranchesResolved)
		require.EqualError(t, err, "Unable to resolve any branches!")
	})

	t.Run("fails when some branches do not resolve", func(t *testing.T) {
		f := newFixture(t)
		f.repo.AddBranch("branch_a", map[string]string{"file_a": "a"})

		_, err := f.resolve(t, testhelpers.NewScriptedOperator(), resolve.Options{Branches: []string{"branch_a", "nope"}})
		require.ErrorIs(t, err, shipiterrors.ErrBranchesMissing)
		require.EqualError(t, err, "Couldn't resolve some branches. Use -f to ignore.")
	})

	t.Run("ignores missing branches when forced", func(t *testing.T) {
		f := newFixture(t)
		a := f.repo.AddBranch("branch_a", map[string]string{"file_a": "a"})

		_, err := f.resolve(t, testhelpers.NewScriptedOperator(), resolve.Options{Branches: []string{"branch_a", "nope"}, Force: true})
		require.NoError(t, err, f.log.String())
		additions, _ := f.requested(t)
		require.Equal(t, branchlist.List{a}, additions)
	})

	t.Run("fails when every branch is already in staging", func(t *testing.T) {
		f := newFixture(t)
		staged := f.buildStaging("branch_a", "branch_b", "branch_c")

		_, err := f.resolve(t, testhelpers.NewScriptedOperator(), resolve.Options{Branches: staged.Names()})
		require.ErrorIs(t, err, shipiterrors.ErrAllInTarget)
		require.EqualError(t, err, "All branches already in staging!")
	})

	t.Run("drops requests already in staging", func(t *testing.T) {
		f := newFixture(t)
		f.buildStaging("branch_a")
		b := f.repo.AddBranch("branch_b", map[string]string{"file_b": "b"})

		additions, _ := f.mustResolve(t, testhelpers.NewScriptedOperator(), "branch_a", "branch_b")
		require.Equal(t, branchlist.List{b}, additions)
	})

	t.Run("fails when a branch conflicts with master", func(t *testing.T) {
		f := newFixture(t)
		f.repo.AddBranch("branch_a", map[string]string{"a": "branch"})
		f.repo.CommitFiles("master", map[string]string{"a": "master"})

		_, err := f.resolve(t, testhelpers.NewScriptedOperator(), resolve.Options{Branches: []string{"branch_a"}})
		require.ErrorIs(t, err, shipiterrors.ErrMasterConflict)
		require.EqualError(t, err, "Merge/rebase the following with master: branch_a")
	})

	t.Run("fails when a branch includes staging", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.buildStaging("branch_a")
		f.repo.AddBranch("branch_b", map[string]string{"file_b": "b"})
		require.NoError(t, f.repo.Checkout(ctx, "branch_b"))
		result, err := f.repo.Merge(ctx, "origin/staging", "Merge staging")
		require.NoError(t, err)
		require.True(t, result.OK)
		require.NoError(t, f.repo.Checkout(ctx, "master"))

		_, err = f.resolve(t, testhelpers.NewScriptedOperator(), resolve.Options{Branches: []string{"branch_b"}})
		require.ErrorIs(t, err, shipiterrors.ErrIncludesTarget)
		require.EqualError(t, err, "Branch(es) includes staging: \n- branch_b")
	})
}

func TestResolveConflicts(t *testing.T) {
	scheme := resolution.DefaultScheme()

	t.Run("asks the operator to resolve a conflict", func(t *testing.T) {
		f := newFixture(t)
		f.buildStaging("branch_a")
		b := f.repo.AddBranch("branch_b", map[string]string{"file_a": "b"})
		operator := testhelpers.ResolvingWith(f.repo)

		additions, removals := f.mustResolve(t, operator, "branch_b")
		require.Equal(t, []string{"conflict-branch_a+branch_b", "branch_b"}, additions.Names())
		require.Equal(t, b, additions[1])
		require.Empty(t, removals)

		require.Equal(t, []string{resolve.ResolveRequest}, operator.Prompts)
		require.NotEmpty(t, operator.Shown)
		require.Contains(t, operator.Shown[0], "CONFLICT")

		pushed, ok := f.repo.RemoteBranch("conflict-branch_a+branch_b")
		require.True(t, ok)
		require.Equal(t, additions[0].CommitID, pushed)
		require.Equal(t, "branch_a|b", f.repo.Files(pushed)["file_a"])
	})

	t.Run("keeps asking until the merge is committed", func(t *testing.T) {
		f := newFixture(t)
		f.buildStaging("branch_a")
		f.repo.AddBranch("branch_b", map[string]string{"file_a": "b"})
		calls := 0
		operator := &testhelpers.ScriptedOperator{
			OnAcknowledge: func(string) error {
				calls++
				if calls < 2 {
					return nil
				}
				return f.repo.CommitResolution("fix")
			},
		}

		additions, _ := f.mustResolve(t, operator, "branch_b")
		require.Len(t, additions, 2)
		require.Equal(t, []string{resolve.ResolveRequest, resolve.NotFinished}, operator.Prompts)
	})

	t.Run("aborts when the operator gives up", func(t *testing.T) {
		f := newFixture(t)
		f.buildStaging("branch_a")
		f.repo.AddBranch("branch_b", map[string]string{"file_a": "b"})

		_, err := f.resolve(t, testhelpers.NewScriptedOperator(), resolve.Options{Branches: []string{"branch_b"}})
		require.ErrorIs(t, err, shipiterrors.ErrResolutionAborted)
		require.Equal(t, "master", f.repo.CurrentBranch())
		require.Empty(t, f.repo.ConflictedFiles())
	})

	t.Run("early branch catches late conflicts", func(t *testing.T) {
		f := newFixture(t)
		f.buildStaging("branch_a", "branch_b")
		f.repo.AddBranch("branch_c", map[string]string{"file_c": "c", "file_a": "c", "file_b": "c"})

		additions, removals := f.mustResolve(t, testhelpers.ResolvingWith(f.repo), "branch_c")
		require.Equal(t, []string{
			"conflict-branch_a+branch_b+branch_c",
			"conflict-branch_a+branch_c",
			"conflict-branch_b+branch_c",
			"branch_c",
		}, additions.Names())
		require.Empty(t, removals)
		require.Contains(t, f.log.String(), "Coalescing conflict resolutions!")
		for _, b := range additions {
			pushed, ok := f.repo.RemoteBranch(b.Name)
			require.True(t, ok, b.Name)
			require.Equal(t, b.CommitID, pushed, b.Name)
		}

		for _, b := range additions {
			f.repo.Stage(b)
		}
		a := f.repo.AddBranch("branch_a", map[string]string{"file_a": "rewritten"})

		additions, removals = f.mustResolve(t, testhelpers.ResolvingWith(f.repo), "branch_a")
		require.Equal(t, []string{
			"conflict-branch_a+branch_b+branch_c",
			"conflict-branch_a+branch_c",
			"branch_a",
		}, additions.Names())
		require.Equal(t, a, additions[2])
		require.Empty(t, removals)
	})

	t.Run("overarching branch on a shared branch in conflict", func(t *testing.T) {
		f := newFixture(t)
		f.buildStaging("branch_a")
		f.repo.AddBranch("branch_b", map[string]string{"file_b": "b", "file_a": "b", "file_c": "b"})

		additions, _ := f.mustResolve(t, testhelpers.ResolvingWith(f.repo), "branch_b")
		require.Equal(t, []string{"conflict-branch_a+branch_b", "branch_b"}, additions.Names())
		for _, b := range additions {
			f.repo.Stage(b)
		}

		f.repo.AddBranch("branch_c", map[string]string{"file_c": "c"})
		additions, _ = f.mustResolve(t, testhelpers.ResolvingWith(f.repo), "branch_c")
		require.Equal(t, []string{
			"conflict-branch_a+branch_b+branch_c",
			"conflict-branch_b+branch_c",
			"branch_c",
		}, additions.Names())
	})

	t.Run("drops a resolution the branch no longer needs", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		a := f.buildStaging("branch_a")[0]
		res, b := f.conflictingBranch(a, "branch_b")
		f.repo.Stage(res)
		f.repo.Stage(b)

		require.NoError(t, f.repo.ForceSetRef(ctx, "branch_b", a.CommitID))
		rewritten := f.repo.CommitFiles("branch_b", map[string]string{"file_a": "rewritten"})

		additions, removals := f.mustResolve(t, testhelpers.NewScriptedOperator(), "branch_b")
		require.Equal(t, branchlist.List{rewritten}, additions)
		require.Equal(t, branchlist.List{res}, removals)
		require.Contains(t, f.log.String(), "Rebuilding staging without rewritten branches")
	})

	t.Run("requests removal of an unused resolution", func(t *testing.T) {
		f := newFixture(t)
		a := f.buildStaging("branch_a")[0]
		res, b := f.conflictingBranch(a, "branch_b")
		f.repo.Stage(res)
		f.repo.Stage(b)
		rewritten := f.repo.AddBranch("branch_b", map[string]string{"file_b": "rewritten"})

		additions, removals := f.mustResolve(t, testhelpers.NewScriptedOperator(), "branch_b")
		require.Equal(t, branchlist.List{rewritten}, additions)
		require.Equal(t, branchlist.List{res}, removals)
	})

	t.Run("reuses a published resolution or builds a new one", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		a := f.buildStaging("branch_a")[0]
		res, b := f.conflictingBranch(a, "branch_b")
		f.repo.Stage(res)
		f.repo.Stage(b)

		// republish both under the old names with new content
		newRes, c := f.conflictingBranch(a, "branch_c")
		f.repo.PushRef(newRes.CommitID, res.Name)
		f.repo.PushRef(c.CommitID, "branch_b")
		require.NoError(t, f.repo.ForceSetRef(ctx, "branch_b", c.CommitID))
		fix := branchlist.Branch{Name: res.Name, CommitID: newRes.CommitID, Committer: newRes.Committer}
		update := branchlist.Branch{Name: "branch_b", CommitID: c.CommitID, Committer: c.Committer}

		operator := &testhelpers.ScriptedOperator{Answers: []bool{true}}
		additions, removals := f.mustResolve(t, operator, "branch_a", "branch_b")
		require.Equal(t, branchlist.List{fix, update}, additions)
		require.Empty(t, removals)
		require.Equal(t, []string{resolve.UsageQuery}, operator.Prompts)
		require.Contains(t, f.log.String(), "origin/"+scheme.Name("branch_a", "branch_b")+" found")

		f.repo.DeleteRemote(res.Name)
		additions, _ = f.mustResolve(t, testhelpers.ResolvingWith(f.repo), "branch_a", "branch_b")
		require.Equal(t, []string{res.Name, "branch_b"}, additions.Names())
		require.NotEqual(t, newRes.CommitID, additions[0].CommitID)
		require.Equal(t, update, additions[1])
		pushed, ok := f.repo.RemoteBranch(res.Name)
		require.True(t, ok)
		require.Equal(t, additions[0].CommitID, pushed)
	})
}
