package main

import (
	"fmt"
	"os"

	"github.com/ThinkParQ/beegfs-sub011/internal/cli"
)

var Version = "dev" // Injected via ldflags during build

func main() {
	if err := cli.NewRootCommand(Version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
