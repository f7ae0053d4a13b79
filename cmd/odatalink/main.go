// Command odatalink reflects OData services, generates typed accessors and
// runs queries from the command line.
package main

import (
	"os"

	"github.com/roach88/odatalink/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
