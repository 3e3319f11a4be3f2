package main

import (
	"fmt"
	"os"

	"github.com/hupe1980/atlasforge/internal/cli"
)

// Set at build time via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	cli.SetVersion(Version, Commit)
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
