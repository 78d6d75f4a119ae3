package main

import (
	"context"
	"fmt"
	"runtime/debug"
)

const versionUsage = `
Usage:	wasibox version

Options:
   -h, --help  Show this usage information
`

func version(ctx context.Context, args []string) error {
	flagSet := newFlagSet("wasibox version", versionUsage)
	_ = flagSet.Parse(args)
	fmt.Printf("wasibox %s\n", currentVersion())
	return nil
}

func currentVersion() string {
	version := "devel"
	if info, ok := debug.ReadBuildInfo(); ok {
		switch info.Main.Version {
		case "", "(devel)":
		default:
			version = info.Main.Version
		}
	}
	return version
}
