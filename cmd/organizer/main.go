package main

import (
	"fmt"
	"os"

	"organizer/internal/cli"
)

func main() {
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), false)

	ctx, cancel := cli.GracefulShutdown(logger)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
