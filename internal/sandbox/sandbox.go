// Package sandbox defines the storage abstraction backing the WASI runtime,
// and provides the in-memory and OS-backed implementations of it.
//
// The model is behavioural rather than POSIX: directories hand out handles to
// their entries, files expose an immutable snapshot for reading and a single
// positioned writable stream for writing. Changes made through a writable
// stream become visible to new snapshots when the stream is closed. The same
// contract can be implemented by host files, an in-memory tree, or a
// browser-style storage API, which is why nothing here assumes seekable OS
// file descriptors.
package sandbox

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"time"
)

var (
	ErrNotExist     = fs.ErrNotExist
	ErrExist        = fs.ErrExist
	ErrPermission   = fs.ErrPermission
	ErrClosed       = fs.ErrClosed
	ErrNotDirectory = errors.New("not a directory")
	ErrIsDirectory  = errors.New("is a directory")
	ErrNotEmpty     = errors.New("directory not empty")
)

// Kind discriminates directory entries.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

// Entry is one name in a directory listing.
type Entry struct {
	Name string
	Kind Kind
}

// DirHandle is an open directory. Names passed to its methods are single
// path components; walking a multi-component path is the caller's job.
//
// All methods may block on the backing store, and observe cancellation of
// the context.
type DirHandle interface {
	// OpenFile opens the file named name in the directory, creating it when
	// create is true and it does not exist. Opening a directory through
	// OpenFile fails with ErrIsDirectory.
	OpenFile(ctx context.Context, name string, create bool) (FileHandle, error)

	// OpenDir opens the sub-directory named name, creating it when create is
	// true and it does not exist. Opening a file through OpenDir fails with
	// ErrNotDirectory.
	OpenDir(ctx context.Context, name string, create bool) (DirHandle, error)

	// Remove deletes the entry named name. Removing a non-empty directory
	// fails with ErrNotEmpty unless recursive is true.
	Remove(ctx context.Context, name string, recursive bool) error

	// Entries starts an enumeration of the directory in backend order.
	Entries(ctx context.Context) (Iterator, error)
}

// Iterator yields directory entries; Next returns io.EOF after the last one.
type Iterator interface {
	Next(ctx context.Context) (Entry, error)
}

// FileHandle is an open file.
type FileHandle interface {
	// Snapshot returns a stable read view of the file's current contents.
	Snapshot(ctx context.Context) (Snapshot, error)

	// NewWritable opens a positioned write stream on the file. When
	// keepExistingData is false the stream starts from empty contents.
	// Writes become visible to subsequent snapshots when the stream is
	// closed.
	NewWritable(ctx context.Context, keepExistingData bool) (Writable, error)
}

// Snapshot is an immutable view of a file at the time it was taken.
type Snapshot interface {
	Size() int64
	ModTime() time.Time

	// Read copies up to len(p) bytes starting at off into p. It returns
	// io.EOF when off is at or beyond the end of the snapshot.
	Read(ctx context.Context, p []byte, off int64) (int, error)
}

// Writable is a positioned write stream on a file.
type Writable interface {
	// Write writes p at byte offset off, extending the file as needed.
	Write(ctx context.Context, p []byte, off int64) (int, error)

	// Truncate resizes the staged contents to size bytes.
	Truncate(ctx context.Context, size int64) error

	// Close commits the staged contents to the file.
	Close(ctx context.Context) error
}

// ReadFile reads the whole content of the file named name in dir.
func ReadFile(ctx context.Context, dir DirHandle, name string) ([]byte, error) {
	f, err := dir.OpenFile(ctx, name, false)
	if err != nil {
		return nil, err
	}
	s, err := f.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if c, ok := s.(io.Closer); ok {
		defer c.Close()
	}
	b := make([]byte, s.Size())
	n := 0
	for n < len(b) {
		rn, err := s.Read(ctx, b[n:], int64(n))
		n += rn
		if err != nil {
			if err == io.EOF {
				break
			}
			return b[:n], err
		}
		if rn == 0 {
			break
		}
	}
	return b[:n], nil
}

// WriteFile creates or replaces the file named name in dir with data.
func WriteFile(ctx context.Context, dir DirHandle, name string, data []byte) error {
	f, err := dir.OpenFile(ctx, name, true)
	if err != nil {
		return err
	}
	w, err := f.NewWritable(ctx, false)
	if err != nil {
		return err
	}
	if _, err := w.Write(ctx, data, 0); err != nil {
		w.Close(ctx)
		return err
	}
	return w.Close(ctx)
}

// MkdirAll opens the directory at the "/"-separated path relative to dir,
// creating every missing component.
func MkdirAll(ctx context.Context, dir DirHandle, path string) (DirHandle, error) {
	d := dir
	for _, name := range splitPath(path) {
		next, err := d.OpenDir(ctx, name, true)
		if err != nil {
			return nil, err
		}
		d = next
	}
	return d, nil
}

func splitPath(path string) []string {
	parts := make([]string, 0, 8)
	for i := 0; i < len(path); {
		for i < len(path) && path[i] == '/' {
			i++
		}
		j := i
		for j < len(path) && path[j] != '/' {
			j++
		}
		if j > i && path[i:j] != "." {
			parts = append(parts, path[i:j])
		}
		i = j
	}
	return parts
}
