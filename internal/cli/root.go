package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shipit.dev/shipit/internal/output"
)

// NewRootCmd creates the root cobra command
func NewRootCmd(version string) *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "shipit",
		Short: "Builds the staging branch from the tracked feature branches",
		Long: `Shipit builds an integration branch (staging by default) by merging the
tracked feature branches onto master. The tracked list is kept in a ledger on
the <target>_history branch. Conflicts between branches are settled once in
conflict resolution branches, which are reused on every rebuild.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
				output.DisableColor()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "Show debug output")
	flags.StringP("target", "t", "staging", "Branch to build")
	flags.StringP("remote", "r", "origin", "Remote to fetch from")
	flags.String("push-remote", "", "Remote to push to (default is --remote)")
	flags.Bool("no-color", false, "Disable colored output")
	flags.StringP("dir", "C", ".", "Run as if started in this directory")

	_ = v.BindPFlag("target", flags.Lookup("target"))
	_ = v.BindPFlag("remote", flags.Lookup("remote"))
	_ = v.BindPFlag("push_remote", flags.Lookup("push-remote"))

	rootCmd.AddCommand(newRebuildCmd(v))
	rootCmd.AddCommand(newResolveCmd(v))
	rootCmd.AddCommand(newHistoryBranchCmd(v))
	rootCmd.AddCommand(newListCmd(v))

	return rootCmd
}
