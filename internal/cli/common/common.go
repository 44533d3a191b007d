// Package common provides shared helper functions for CLI commands.
package common

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shipit.dev/shipit/internal/prompt"
	"shipit.dev/shipit/internal/runtime"
)

// reportedError marks an error that was already logged
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// Reported marks err as logged so it is not printed again on exit
func Reported(err error) error {
	if err == nil {
		return nil
	}
	return &reportedError{err: err}
}

// WasReported reports whether err was already logged
func WasReported(err error) bool {
	var reported *reportedError
	return errors.As(err, &reported)
}

// Run provides a runtime context to a command's execution function. Errors
// returned by fn are logged unless fn already did.
func Run(cmd *cobra.Command, v *viper.Viper, fn func(ctx *runtime.Context) error) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	dir, _ := cmd.Flags().GetString("dir")

	opts := runtime.Options{
		Dir:     dir,
		Viper:   v,
		Verbose: verbose,
		Out:     cmd.OutOrStdout(),
	}
	if in := cmd.InOrStdin(); in != os.Stdin {
		opts.Operator = prompt.NewLineTerminal(in, cmd.OutOrStdout())
	}

	ctx, err := runtime.NewContext(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer func() { _ = ctx.Close() }()

	err = fn(ctx)
	if err != nil && !WasReported(err) {
		for _, line := range strings.Split(strings.TrimRight(err.Error(), "\n"), "\n") {
			ctx.Splog.Error("%s", line)
		}
		err = Reported(err)
	}
	return err
}

// CompleteBranches is a helper for cobra.ValidArgsFunction that returns the
// branches of the configured remote
func CompleteBranches(v *viper.Viper) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		dir, _ := cmd.Flags().GetString("dir")
		ctx, err := runtime.NewContext(cmd.Context(), runtime.Options{Dir: dir, Viper: v})
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		defer func() { _ = ctx.Close() }()

		branches, err := ctx.Session.RemoteBranches()
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		return branches, cobra.ShellCompDirectiveNoFileComp
	}
}
