package main

import (
	"fmt"
	"os"

	"github.com/uatmail/verp-filter/cmd"
	"github.com/uatmail/verp-filter/outcome"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(outcome.ExitCode(err))
	}
}
