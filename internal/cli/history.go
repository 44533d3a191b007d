package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shipit.dev/shipit/internal/cli/common"
	"shipit.dev/shipit/internal/output"
	"shipit.dev/shipit/internal/runtime"
)

// newHistoryBranchCmd creates the history-branch command
func newHistoryBranchCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "history-branch",
		Short: "Create the history branch tracking the target's branches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return common.Run(cmd, v, func(ctx *runtime.Context) error {
				session := ctx.Session
				if err := session.InitHistory(ctx.Context); err != nil {
					return err
				}
				ctx.Splog.Info("Created %s on %s", output.Branch(session.HistoryBranch()), session.Remote())
				return nil
			})
		},
	}
}
