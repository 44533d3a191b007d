package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shipit.dev/shipit/internal/branchlist"
	"shipit.dev/shipit/internal/cli/common"
	shipiterrors "shipit.dev/shipit/internal/errors"
	"shipit.dev/shipit/internal/output"
	"shipit.dev/shipit/internal/runtime"
)

// newListCmd creates the list command
func newListCmd(v *viper.Viper) *cobra.Command {
	var csv bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the branches tracked for the target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return common.Run(cmd, v, func(ctx *runtime.Context) error {
				session := ctx.Session
				if err := session.Sync(ctx.Context); err != nil {
					if !session.HasRemoteBranch(session.HistoryBranch()) {
						return fmt.Errorf("%w for %s", shipiterrors.ErrHistoryMissing, session.Target())
					}
					return err
				}
				list, err := session.ReadHistory(ctx.Context)
				if err != nil {
					return err
				}

				message, err := session.HistoryMessage(ctx.Context)
				if err != nil {
					return err
				}

				if csv {
					data, err := branchlist.Encode(list)
					if err != nil {
						return err
					}
					ctx.Splog.Page(string(data))
					return nil
				}
				if len(list) == 0 {
					ctx.Splog.Info("No branches in %s", output.Branch(session.Target()))
					return nil
				}
				subject, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
				ctx.Splog.Info("Last update: %s", subject)
				for _, b := range list {
					ctx.Splog.Info("%s %s %s", output.Commit(shortID(b.CommitID)), output.Branch(b.Name), b.Committer)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&csv, "csv", false, "Print the ledger as stored")

	return cmd
}

func shortID(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}
