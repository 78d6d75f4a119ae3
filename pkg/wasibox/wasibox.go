// Package wasibox runs WASI preview 1 guests on the wazero engine against a
// capability-sandboxed file system.
//
// A guest is compiled once into a Module, which owns the engine, the
// wasi_snapshot_preview1 host module and the sandbox configuration; Run
// instantiates the guest, drives it to completion and reports its exit code.
package wasibox

import (
	"io"

	"github.com/wasmkit/wasibox/internal/sandbox"
)

// Mount grants the guest access to a backing directory under the given
// absolute guest path. Mount order matters: when mount paths nest, guest
// paths resolve to the mount with the longest matching prefix, and later
// mounts shadow earlier ones mounted at the same path.
type Mount struct {
	Path string
	Dir  sandbox.DirHandle
}

// Config carries everything a guest observes about its environment. All
// fields are captured at Compile time; changing them afterwards has no
// effect on a running guest.
type Config struct {
	// Name is the program name the guest sees as argv[0]. Defaults to
	// "wasibox".
	Name string

	// Args are the guest's command line arguments, not including the
	// program name.
	Args []string

	// Env is the guest's environment as "KEY=VALUE" entries.
	Env []string

	// Mounts are the pre-opened directories, in registration order.
	Mounts []Mount

	// Stdin, Stdout and Stderr back the guest's standard streams. Nil
	// streams read as empty and refuse writes.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Trace, when set, receives an strace-like log of every system call.
	Trace io.Writer
}
