package main

import (
	"fmt"
	"os"

	"github.com/ryatkins/liftgate/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Subcommands print their own formatted output; this catches
		// flag errors and the terse ExitError summaries.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
