package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shipit.dev/shipit/internal/actions/resolve"
	"shipit.dev/shipit/internal/cli/common"
	"shipit.dev/shipit/internal/runtime"
)

// newResolveCmd creates the resolve command
func newResolveCmd(v *viper.Viper) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "resolve <branch>...",
		Short: "Request branches for the target, resolving conflicts with tracked branches",
		Long: `Resolve checks that the given branches merge into the target. Conflicts with
tracked branches are settled in conflict resolution branches, reusing
published ones when they still apply and asking you to fix the merge by hand
otherwise. The branches to add and drop are written to the request files for
the next rebuild.`,
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: common.CompleteBranches(v),
		RunE: func(cmd *cobra.Command, args []string) error {
			return common.Run(cmd, v, func(ctx *runtime.Context) error {
				o := ctx.Orchestrator()
				strategy := resolve.New(o, ctx.Operator, resolve.Options{
					Branches:      args,
					Force:         force,
					AdditionsFile: ctx.Path(ctx.Config.Files.Additions),
					RemovalsFile:  ctx.Path(ctx.Config.Files.Removals),
				})
				return common.Reported(o.Run(ctx.Context, strategy))
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Ignore branches that cannot be found")

	return cmd
}
