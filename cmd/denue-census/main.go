package main

import (
	"fmt"
	"os"

	"github.com/mxstats/denue-census/internal/cli"
)

// runMain executes the command and returns the process exit code.
// Extracted so tests can exercise the exit path.
func runMain() int {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain())
}
