package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/wasmkit/wasibox/internal/sandbox"
	"github.com/wasmkit/wasibox/internal/wasip1"
	"github.com/wasmkit/wasibox/pkg/wasibox"
)

const runUsage = `
Usage:	wasibox run [options] [--] <module> [args...]

Options:
   -c, --config path     Load mounts, environment and arguments from a YAML manifest
       --dir dir         Expose a host directory to the guest module, either as
                         <path> or <guest path>=<host path>; may be repeated
   -e, --env name=value  Pass an environment variable to the guest module
   -h, --help            Show this usage information
       --restrict        Do not automatically pass the host environment to the guest
   -T, --trace           Enable strace-like logging of host function calls
`

func run(ctx context.Context, args []string) error {
	var (
		envs       stringList
		dirs       stringList
		configPath string
		restrict   = false
		trace      = false
	)

	flagSet := newFlagSet("wasibox run", runUsage)
	customVar(flagSet, &envs, "e", "env")
	customVar(flagSet, &dirs, "dir")
	stringVar(flagSet, &configPath, "c", "config")
	boolVar(flagSet, &restrict, "restrict")
	boolVar(flagSet, &trace, "T", "trace")

	if err := flagSet.Parse(args); err != nil {
		return err
	}

	config := wasibox.Config{}
	if configPath != "" {
		manifest, err := loadManifest(configPath)
		if err != nil {
			return err
		}
		if err := manifest.apply(&config); err != nil {
			return err
		}
	}
	if !restrict {
		config.Env = append(os.Environ(), config.Env...)
	}
	config.Env = append(config.Env, envs...)
	for _, dir := range dirs {
		mount, err := parseMount(dir)
		if err != nil {
			return err
		}
		config.Mounts = append(config.Mounts, mount)
	}

	args = flagSet.Args()
	if len(args) == 0 {
		return errors.New(`missing module path, run 'wasibox help run'`)
	}
	wasmPath := args[0]
	args = args[1:]
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}

	wasmCode, err := os.ReadFile(wasmPath)
	if err != nil {
		return fmt.Errorf("could not read wasm file '%s': %w", wasmPath, err)
	}

	// Terminals are line oriented; stderr stays pass-through so diagnostics
	// are not held back by a missing newline.
	stdout := wasip1.NewLineWriter(os.Stdout)
	defer stdout.Close()

	config.Name = filepath.Base(wasmPath)
	config.Args = append(config.Args, args...)
	config.Stdin = os.Stdin
	config.Stdout = stdout
	config.Stderr = os.Stderr
	if trace {
		config.Trace = os.Stderr
	}

	module, err := wasibox.Compile(ctx, wasmCode, config)
	if err != nil {
		return err
	}
	defer module.Close(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	exitCode := 0
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		return nil
	})
	group.Go(func() error {
		defer cancel()
		code, err := module.Run(ctx)
		exitCode = code
		return err
	})
	if err := group.Wait(); err != nil {
		return err
	}
	if exitCode != 0 {
		return ExitCode(exitCode)
	}
	return nil
}

// parseMount splits a --dir value of the form "<path>" or
// "<guest path>=<host path>" into a mount. The guest path must be absolute.
func parseMount(dir string) (wasibox.Mount, error) {
	guest, host := dir, dir
	if i := strings.IndexByte(dir, '='); i >= 0 {
		guest, host = dir[:i], dir[i+1:]
	}
	if !strings.HasPrefix(guest, "/") {
		return wasibox.Mount{}, fmt.Errorf("invalid mount path '%s': guest path must be absolute", dir)
	}
	if _, err := os.Stat(host); err != nil {
		return wasibox.Mount{}, fmt.Errorf("invalid mount path '%s': %w", dir, err)
	}
	return wasibox.Mount{Path: guest, Dir: sandbox.NewDirFS(host)}, nil
}
