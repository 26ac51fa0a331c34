// Command reprozip traces a command's execution, recording every
// process it creates and every file it opens to a SQLite database.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(traceCmd), "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
