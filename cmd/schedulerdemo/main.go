// Package main is the command-line entrypoint for exercising the
// cost-aware scheduler outside of tests.
package main

import (
	"fmt"
	"os"

	"github.com/tsayin4/cost-aware-scheduler/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
