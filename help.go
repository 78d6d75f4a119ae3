package main

import (
	"context"
	"fmt"
)

const helpUsage = `
Usage:	wasibox <command> [options]

Runtime Commands:
   run      Run a WebAssembly module in the sandbox

Other Commands:
   help     Show usage information about wasibox commands
   version  Show the wasibox version information

For a description of each command, run 'wasibox help <command>'.`

func help(ctx context.Context, args []string) error {
	flagSet := newFlagSet("wasibox help", helpUsage)
	_ = flagSet.Parse(args)

	var cmd string
	if args = flagSet.Args(); len(args) > 0 {
		cmd = args[0]
	}

	var msg string
	switch cmd {
	case "help", "":
		msg = helpUsage
	case "run":
		msg = runUsage
	case "version":
		msg = versionUsage
	default:
		fmt.Printf("wasibox help %s: unknown command\n", cmd)
		return ExitCode(1)
	}

	fmt.Println(msg)
	return nil
}
