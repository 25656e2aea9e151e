package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fanex-id/integrations/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		// The failed envelope has already been printed.
		if !errors.Is(err, cli.ErrCallFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
