// Command graphcache runs mutation scenarios, inspects transaction journals
// and compiles CUE mutation catalogs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/roach88/graphcache/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(cli.ExitCode(err))
	}
}
