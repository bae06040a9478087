// Command cadmaflow runs molecular property workflows: validating flow
// definitions, executing them against a SQLite database, serving the HTTP
// API, and inspecting execution timelines.
package main

import (
	"fmt"
	"os"

	"github.com/chem-gl/cadma-flow-api/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
