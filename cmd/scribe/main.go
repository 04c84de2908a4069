package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		// Interrupted commands exit silently; cobra already stopped the run.
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "scribe:", err)
		}
		os.Exit(1)
	}
}
