package main

import (
	"context"
	"os"

	"github.com/wesleyorama2/rampcheck/internal/cli"
)

// Main runs the command line and returns the exit code.
// It's exported to make it testable
func Main(args []string) int {
	return cli.Execute(context.Background(), args, os.Stdout, os.Stderr)
}

func main() {
	os.Exit(Main(os.Args[1:]))
}
