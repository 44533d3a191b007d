package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"shipit.dev/shipit/internal/cli"
	"shipit.dev/shipit/internal/cli/common"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := cli.NewRootCmd(version)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !common.WasReported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		stop()
		os.Exit(1)
	}
}
