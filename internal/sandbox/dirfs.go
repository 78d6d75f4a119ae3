package sandbox

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// NewDirFS returns a directory handle rooted at the host directory path.
//
// The handle is a thin adapter over the os package; the capability guarantee
// comes from the path resolver never passing anything but single, already
// normalized components down here.
//
// Writable streams write straight to the host file: writes are visible to
// reads before the stream is closed, and a stream opened without
// keepExistingData truncates the file as soon as it is opened. Snapshots
// record the size and modification time when taken but read the live file.
func NewDirFS(path string) DirHandle {
	return &osDir{path: path}
}

type osDir struct {
	path string
}

func (d *osDir) join(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", ErrPermission
	}
	return filepath.Join(d.path, name), nil
}

func (d *osDir) OpenFile(ctx context.Context, name string, create bool) (FileHandle, error) {
	path, err := d.join(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.IsDir() {
			return nil, ErrIsDirectory
		}
	case os.IsNotExist(err):
		if !create {
			return nil, ErrNotExist
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			return nil, osError(err)
		}
		f.Close()
	default:
		return nil, osError(err)
	}
	return &osFile{path: path}, nil
}

func (d *osDir) OpenDir(ctx context.Context, name string, create bool) (DirHandle, error) {
	path, err := d.join(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, ErrNotDirectory
		}
	case os.IsNotExist(err):
		if !create {
			return nil, ErrNotExist
		}
		if err := os.Mkdir(path, 0777); err != nil {
			return nil, osError(err)
		}
	default:
		return nil, osError(err)
	}
	return &osDir{path: path}, nil
}

func (d *osDir) Remove(ctx context.Context, name string, recursive bool) error {
	path, err := d.join(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if recursive {
		return osError(os.RemoveAll(path))
	}
	return osError(os.Remove(path))
}

func (d *osDir) Entries(ctx context.Context) (Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(d.path)
	if err != nil {
		return nil, osError(err)
	}
	entries := make([]Entry, 0, len(dirents))
	for _, e := range dirents {
		kind := KindFile
		if e.IsDir() {
			kind = KindDirectory
		}
		entries = append(entries, Entry{Name: e.Name(), Kind: kind})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return &memIterator{entries: entries}, nil
}

type osFile struct {
	path string
}

func (f *osFile) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.path)
	if err != nil {
		return nil, osError(err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, osError(err)
	}
	return &osSnapshot{file: file, size: info.Size(), mtime: info.ModTime()}, nil
}

func (f *osFile) NewWritable(ctx context.Context, keepExistingData bool) (Writable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	flags := os.O_WRONLY
	if !keepExistingData {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(f.path, flags, 0666)
	if err != nil {
		return nil, osError(err)
	}
	return &osWritable{file: file}, nil
}

// osSnapshot pins the file open for the lifetime of the view; callers that
// care about descriptor usage close it through the optional io.Closer.
type osSnapshot struct {
	file  *os.File
	size  int64
	mtime time.Time
}

func (s *osSnapshot) Size() int64        { return s.size }
func (s *osSnapshot) ModTime() time.Time { return s.mtime }

func (s *osSnapshot) Read(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if off >= s.size {
		return 0, io.EOF
	}
	if max := s.size - off; int64(len(p)) > max {
		p = p[:max]
	}
	n, err := s.file.ReadAt(p, off)
	return n, osError(err)
}

func (s *osSnapshot) Close() error { return s.file.Close() }

type osWritable struct {
	file *os.File
}

func (w *osWritable) Write(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := w.file.WriteAt(p, off)
	return n, osError(err)
}

func (w *osWritable) Truncate(ctx context.Context, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return osError(w.file.Truncate(size))
}

func (w *osWritable) Close(ctx context.Context) error {
	return osError(w.file.Close())
}

// osError folds os and syscall errors into the package's sentinel errors so
// the layers above stay backend-agnostic.
func osError(err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return ErrNotExist
	case os.IsExist(err) && !errors.Is(err, syscall.ENOTEMPTY):
		// syscall.Errno reports ENOTEMPTY as fs.ErrExist too; it is
		// classified below.
		return ErrExist
	case os.IsPermission(err):
		return ErrPermission
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ENOTEMPTY:
			return ErrNotEmpty
		case syscall.EISDIR:
			return ErrIsDirectory
		case syscall.ENOTDIR:
			return ErrNotDirectory
		}
	}
	return err
}
