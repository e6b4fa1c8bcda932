// Command changefeed stages, promotes, backfills and reads a sharded changefeed.
package main

import (
	"context"
	"os"

	"github.com/roach88/changefeed/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
