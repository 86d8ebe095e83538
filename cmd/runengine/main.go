// Command runengine compiles, validates and runs data-acquisition plans.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/runengine/internal/cli"
)

func main() {
	err := cli.NewRootCommand().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(cli.GetExitCode(err))
}
