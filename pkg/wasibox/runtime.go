package wasibox

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/stealthrocket/wazergo"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"

	"github.com/wasmkit/wasibox/internal/wasi"
	"github.com/wasmkit/wasibox/internal/wasip1"
)

var runtimeConfig = wazero.NewRuntimeConfig().
	WithCloseOnContextDone(true)

// Module is a compiled guest bound to its sandbox.
type Module struct {
	runtime wazero.Runtime
	module  wazero.CompiledModule
	wasip1  *wazergo.ModuleInstance[*wasip1.Module]
}

// Compile builds a wazero runtime hosting the wasi_snapshot_preview1 module
// configured from config, and compiles the guest bytecode against it.
func Compile(ctx context.Context, bytecode []byte, config Config) (*Module, error) {
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	var system wasi.System = newSystem(config)
	if config.Trace != nil {
		system = wasip1.Trace(config.Trace, system)
	}

	instance, err := wazergo.Instantiate(ctx, runtime, wasip1.HostModule, wasip1.WithWASI(system))
	if err != nil {
		runtime.Close(ctx)
		return nil, err
	}

	module, err := runtime.CompileModule(ctx, bytecode)
	if err != nil {
		runtime.Close(ctx)
		return nil, err
	}
	return &Module{runtime: runtime, module: module, wasip1: instance}, nil
}

// Run instantiates the guest, which invokes its _start function, and returns
// the process exit code. A guest that returns from _start without calling
// proc_exit exits with code 0.
func (m *Module) Run(ctx context.Context) (int, error) {
	ctx = wazergo.WithModuleInstance(ctx, m.wasip1)

	instance, err := m.runtime.InstantiateModule(ctx, m.module, wazero.NewModuleConfig())
	if err != nil {
		var exit *sys.ExitError
		if errors.As(err, &exit) {
			return int(exit.ExitCode()), nil
		}
		return -1, err
	}
	return 0, instance.Close(ctx)
}

// Close releases the engine and every resource held by the sandbox.
func (m *Module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

func newSystem(config Config) *wasip1.System {
	name := config.Name
	if name == "" {
		name = "wasibox"
	}
	epoch := time.Now()
	system := &wasip1.System{
		Args:    append([]string{name}, config.Args...),
		Environ: config.Env,
		Stdin:   config.Stdin,
		Stdout:  config.Stdout,
		Stderr:  config.Stderr,
		Realtime: func(context.Context) (wasi.Timestamp, error) {
			return wasi.Timestamp(time.Now().UnixNano()), nil
		},
		Monotonic: func(context.Context) (wasi.Timestamp, error) {
			return wasi.Timestamp(time.Since(epoch)), nil
		},
		Rand: rand.Reader,
	}
	for _, mount := range config.Mounts {
		system.Preopen(mount.Path, mount.Dir)
	}
	return system
}
