// Command mosaic runs one process hosting one or more logical
// validators that share a single consensus listener.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	root := &cobra.Command{
		Use:   "mosaic",
		Short: "Mosaic BFT consensus node",

		SilenceUsage: true,
	}

	root.AddCommand(
		newRunCommand(),
		newKeygenCommand(),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
