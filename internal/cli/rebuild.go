package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shipit.dev/shipit/internal/actions/rebuild"
	"shipit.dev/shipit/internal/cli/common"
	"shipit.dev/shipit/internal/runtime"
)

// newRebuildCmd creates the rebuild command
func newRebuildCmd(v *viper.Viper) *cobra.Command {
	var (
		force      bool
		noPush     bool
		structured bool
	)

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the target from the tracked branches and pending requests",
		Long: `Rebuild merges the tracked branches and the branches listed in the additions
file, minus those in the removals file, and pushes the result as
predeploy_<target>. The new branch list is appended to the history branch.

Staging is rebuilt from master when master moved on, when forced, or when
the removals file contains "all".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return common.Run(cmd, v, func(ctx *runtime.Context) error {
				cfg := ctx.Config
				o := ctx.Orchestrator()
				strategy := rebuild.New(o, rebuild.Options{
					Force:         force,
					Push:          !noPush,
					Structured:    structured,
					ReportFormat:  cfg.ReportFormat(),
					DelayedDrop:   cfg.DelayedConflictDrop,
					AdditionsFile: ctx.Path(cfg.Files.Additions),
					RemovalsFile:  ctx.Path(cfg.Files.Removals),
					ReportFile:    ctx.Path(cfg.Files.Report),
				})
				return common.Reported(o.Run(ctx.Context, strategy))
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Rebuild from master even when nothing changed")
	cmd.Flags().BoolVarP(&noPush, "no-push", "n", false, "Leave the result locally")
	cmd.Flags().BoolVar(&structured, "json", false, "Write failures to the report file instead of the log")
	cmd.Flags().BoolP("delayed-conflict-drop", "d", false, "Keep resolutions of branches merged to master for one more rebuild")
	_ = v.BindPFlag("delayed_conflict_drop", cmd.Flags().Lookup("delayed-conflict-drop"))

	return cmd
}
