package main

import (
	"context"
	"fmt"
)

const unknownCommand = `wasibox %s: unknown command
For a list of commands available, run 'wasibox help'
`

func unknown(ctx context.Context, cmd string) error {
	fmt.Printf(unknownCommand, cmd)
	return ExitCode(1)
}
