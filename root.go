package main

// Notes on program structure
// --------------------------
//
// wasibox uses subcommands to invoke specific functionalities of the
// program. Each subcommand is implemented by a function named after the
// command, in a file of the same name (e.g. the "run" command is implemented
// by the run function in run.go).
//
// The usage message for each command is declared by a constant starting with
// the command name and followed by the suffix "Usage". The usage message
// contains a "Usage:	wasibox <command>" section presenting the structure of
// the command. Note the tabulation separating "Usage:" and "wasibox".

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
)

const rootUsage = `wasibox - WebAssembly sandbox runtime

   wasibox runs WASI programs against a set of host directories exposed as
   capabilities, translating each system call the guest makes into operations
   on the sandboxed file system.

Example:

   $ wasibox run --dir /sandbox=/tmp/sandbox -- app.wasm ls /sandbox

For a list of commands available, run 'wasibox help'.`

// ExitCode is an error type returned from commands to indicate the exit code
// that should be returned by the program.
type ExitCode int

func (e ExitCode) Error() string {
	return fmt.Sprintf("exit: %d", int(e))
}

// root is the wasibox entrypoint.
func root(ctx context.Context, args ...string) int {
	flagSet := newFlagSet("wasibox", helpUsage)
	_ = flagSet.Parse(args)

	if args = flagSet.Args(); len(args) == 0 {
		fmt.Println(rootUsage)
		return 0
	}

	var err error
	switch cmd, cmdArgs := args[0], args[1:]; cmd {
	case "help":
		err = help(ctx, cmdArgs)
	case "run":
		err = run(ctx, cmdArgs)
	case "version":
		err = version(ctx, cmdArgs)
	default:
		err = unknown(ctx, cmd)
	}

	switch {
	case err == nil:
		return 0
	default:
		var exit ExitCode
		if errors.As(err, &exit) {
			return int(exit)
		}
		fmt.Fprintf(os.Stderr, "wasibox: %s\n", err)
		return 1
	}
}

type stringList []string

func (s stringList) String() string {
	return fmt.Sprintf("%v", []string(s))
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func newFlagSet(cmd, usage string) *flag.FlagSet {
	flagSet := flag.NewFlagSet(cmd, flag.ExitOnError)
	flagSet.Usage = func() { fmt.Println(usage) }
	return flagSet
}

func customVar(f *flag.FlagSet, dst flag.Value, names ...string) {
	for _, name := range names {
		f.Var(dst, name, "")
	}
}

func stringVar(f *flag.FlagSet, dst *string, names ...string) {
	for _, name := range names {
		f.StringVar(dst, name, *dst, "")
	}
}

func boolVar(f *flag.FlagSet, dst *bool, names ...string) {
	for _, name := range names {
		f.BoolVar(dst, name, *dst, "")
	}
}
