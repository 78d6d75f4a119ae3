package wasip1

import (
	"context"
	"errors"
	"log"

	"github.com/wasmkit/wasibox/internal/sandbox"
	"github.com/wasmkit/wasibox/internal/wasi"
)

// makeErrno classifies an error coming out of the backend (or carried as a
// wasi.Errno) into the WASI errno space. Errors with no known classification
// indicate a host-side bug: they are logged and reported to the guest as EIO.
func makeErrno(err error) wasi.Errno {
	switch {
	case err == nil:
		return wasi.ESUCCESS
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return wasi.ECANCELED
	case errors.Is(err, sandbox.ErrNotExist):
		return wasi.ENOENT
	case errors.Is(err, sandbox.ErrExist):
		return wasi.EEXIST
	case errors.Is(err, sandbox.ErrNotDirectory):
		return wasi.ENOTDIR
	case errors.Is(err, sandbox.ErrIsDirectory):
		return wasi.EISDIR
	case errors.Is(err, sandbox.ErrNotEmpty):
		return wasi.ENOTEMPTY
	case errors.Is(err, sandbox.ErrPermission):
		return wasi.EACCES
	case errors.Is(err, sandbox.ErrClosed):
		return wasi.EBADF
	}
	var errno wasi.Errno
	if errors.As(err, &errno) {
		return errno
	}
	log.Printf("ERROR: unclassified backend error: %v", err)
	return wasi.EIO
}
