package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/remram44/reprozip-go/pkg/recorder/sqlitedb"
	"github.com/remram44/reprozip-go/pkg/tracelog"
	"github.com/remram44/reprozip-go/pkg/traceconfig"
	"github.com/remram44/reprozip-go/pkg/tracer"
	"github.com/remram44/reprozip-go/pkg/tracer/recorder"
)

// traceCmd implements subcommands.Command for the "trace" command,
// following the shape runsc/cmd/checkpoint.go uses:
// Name/Synopsis/Usage/SetFlags/Execute.
type traceCmd struct {
	flags *traceconfig.Flags
}

func (*traceCmd) Name() string { return "trace" }

func (*traceCmd) Synopsis() string {
	return "run a command under ptrace, recording every process and file it touches"
}

func (*traceCmd) Usage() string {
	return `trace [flags] -- <command> [args...] - trace a command's execution.
`
}

func (c *traceCmd) SetFlags(f *flag.FlagSet) {
	c.flags = traceconfig.RegisterFlags(f)
}

// Execute runs the trace and maps its outcome to a process exit code
// (spec §6): 0/1 for the tracer's own success/failure, 2 for a refused
// command, and the traced program's own exit code when it ran to
// completion and returned normally.
func (c *traceCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	cfg, err := c.flags.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "reprozip: %v\n", err)
		return subcommands.ExitFailure
	}

	log := tracelog.New(os.Stderr, cfg.Verbosity)

	rec, err := sqlitedb.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reprozip: %v\n", err)
		return subcommands.ExitFailure
	}

	argv := f.Args()
	arg0 := cfg.Arg0
	if arg0 == "" {
		arg0 = argv[0]
	}

	status, err := tracer.TraceWithArg0(rec, argv, arg0, log)
	if err != nil {
		if tracer.IsInvalidCommand(err) {
			fmt.Fprintf(os.Stderr, "reprozip: invalid command: %v\n", argv)
			return subcommands.ExitStatus(2)
		}
		fmt.Fprintf(os.Stderr, "reprozip: %v\n", err)
		return subcommands.ExitFailure
	}

	os.Exit(exitCodeFor(status))
	panic("unreachable")
}

// exitCodeFor mirrors the traced program's own exit status back to the
// caller: a normal return carries its code through unchanged, and a
// fatal signal is reported the way a POSIX shell would (128+signal).
func exitCodeFor(status recorder.ExitStatus) int {
	if status.Kind == recorder.Signaled {
		return 128 + int(status.Signal)
	}
	return int(status.Code)
}
