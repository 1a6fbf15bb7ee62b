// Command scriptcue runs the teleprompter transcription relay and its
// client tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "scriptcue: %v\n", err)
		}
		os.Exit(1)
	}
}
