package wasip1

import (
	"context"
	"io"

	"github.com/wasmkit/wasibox/internal/sandbox"
	"github.com/wasmkit/wasibox/internal/wasi"
)

// openFile is the state of a file opened by the guest: the backend handle,
// the logical path used for diagnostics, the byte position, and the lazily
// created read and write channels. At most one writable stream exists at a
// time; flush closes and discards it along with the cached snapshot.
type openFile struct {
	path     string
	file     sandbox.FileHandle
	position int64
	snapshot sandbox.Snapshot
	writable sandbox.Writable
}

// load returns the cached read snapshot, taking a fresh one if needed.
func (f *openFile) load(ctx context.Context) (sandbox.Snapshot, error) {
	if f.snapshot == nil {
		s, err := f.file.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		f.snapshot = s
	}
	return f.snapshot, nil
}

// writer returns the cached writable stream, opening one preserving the
// current contents if needed.
func (f *openFile) writer(ctx context.Context) (sandbox.Writable, error) {
	if f.writable == nil {
		w, err := f.file.NewWritable(ctx, true)
		if err != nil {
			return nil, err
		}
		f.writable = w
	}
	return f.writable, nil
}

// flush commits the writable stream (if any) and drops the cached snapshot
// so the next read observes the committed bytes. With no pending writes the
// snapshot stays cached.
func (f *openFile) flush(ctx context.Context) error {
	if f.writable == nil {
		return nil
	}
	w := f.writable
	f.writable = nil
	f.dropSnapshot()
	return w.Close(ctx)
}

// release flushes and drops every side channel; the open file is done.
func (f *openFile) release(ctx context.Context) error {
	err := f.flush(ctx)
	f.dropSnapshot()
	return err
}

func (f *openFile) dropSnapshot() {
	if f.snapshot != nil {
		if c, ok := f.snapshot.(io.Closer); ok {
			c.Close()
		}
		f.snapshot = nil
	}
}

// openDir is the state of a directory opened by the guest, including the
// resumable enumerator used by fd_readdir.
type openDir struct {
	path   string
	dir    sandbox.DirHandle
	reader *dirReader
}

// dirReader resumes directory enumeration across fd_readdir calls. pos is
// the index of the next entry to emit; pushback holds an entry that was read
// from the iterator but did not fit in the caller's buffer.
type dirReader struct {
	pos      wasi.DirCookie
	it       sandbox.Iterator
	pushback *sandbox.Entry
}

// next returns the entry at the reader's position without advancing it; the
// caller advances with commit once the entry has been emitted.
func (r *dirReader) next(ctx context.Context) (sandbox.Entry, error) {
	if r.pushback != nil {
		return *r.pushback, nil
	}
	e, err := r.it.Next(ctx)
	if err != nil {
		return sandbox.Entry{}, err
	}
	r.pushback = &e
	return e, nil
}

func (r *dirReader) commit() {
	r.pushback = nil
	r.pos++
}

// open is the tagged variant stored in the table: exactly one of file or dir
// is set.
type open struct {
	file *openFile
	dir  *openDir
}

// table is the registry of open files and directories. Descriptors 0 to 2
// are never present; preopens occupy [3, firstNonPreopenFD) and further
// opens allocate strictly increasing values that are never reused.
type table struct {
	handles  map[wasi.FD]open
	preopens []preopen
	nextFD   wasi.FD
}

func newTable() *table {
	return &table{handles: make(map[wasi.FD]open), nextFD: 3}
}

// firstNonPreopenFD is the first descriptor value after the preopen range.
func (t *table) firstNonPreopenFD() wasi.FD {
	return 3 + wasi.FD(len(t.preopens))
}

// addPreopen registers a pre-opened directory. Preopens must all be
// registered before the first open; the preopen range is immutable
// afterwards.
func (t *table) addPreopen(path string, dir sandbox.DirHandle) wasi.FD {
	if t.nextFD != t.firstNonPreopenFD() {
		panic("BUG: preopen registered after the table started allocating descriptors")
	}
	fd := t.nextFD
	t.nextFD++
	t.preopens = append(t.preopens, preopen{fd: fd, path: path, dir: dir})
	t.handles[fd] = open{dir: &openDir{path: path, dir: dir}}
	return fd
}

func (t *table) addFile(path string, file sandbox.FileHandle) wasi.FD {
	fd := t.nextFD
	t.nextFD++
	t.handles[fd] = open{file: &openFile{path: path, file: file}}
	return fd
}

func (t *table) addDir(path string, dir sandbox.DirHandle) wasi.FD {
	fd := t.nextFD
	t.nextFD++
	t.handles[fd] = open{dir: &openDir{path: path, dir: dir}}
	return fd
}

func (t *table) lookup(fd wasi.FD) (open, wasi.Errno) {
	o, ok := t.handles[fd]
	if !ok {
		return open{}, wasi.EBADF
	}
	return o, wasi.ESUCCESS
}

func (t *table) lookupFile(fd wasi.FD) (*openFile, wasi.Errno) {
	o, errno := t.lookup(fd)
	if errno != wasi.ESUCCESS {
		return nil, errno
	}
	if o.file == nil {
		return nil, wasi.EISDIR
	}
	return o.file, wasi.ESUCCESS
}

func (t *table) lookupDir(fd wasi.FD) (*openDir, wasi.Errno) {
	o, errno := t.lookup(fd)
	if errno != wasi.ESUCCESS {
		return nil, errno
	}
	if o.dir == nil {
		return nil, wasi.ENOTDIR
	}
	return o.dir, wasi.ESUCCESS
}

// lookupPreopen returns the pre-opened directory registered at fd, or EBADF
// when fd is outside the preopen range.
func (t *table) lookupPreopen(fd wasi.FD) (*preopen, wasi.Errno) {
	if fd < 3 || fd >= t.firstNonPreopenFD() {
		return nil, wasi.EBADF
	}
	return &t.preopens[fd-3], wasi.ESUCCESS
}

func (t *table) isPreopen(fd wasi.FD) bool {
	return fd >= 3 && fd < t.firstNonPreopenFD()
}

// close removes fd from the table, flushing files first. The descriptor
// value is retired: nextFD never goes back.
func (t *table) close(ctx context.Context, fd wasi.FD) wasi.Errno {
	o, errno := t.lookup(fd)
	if errno != wasi.ESUCCESS {
		return errno
	}
	delete(t.handles, fd)
	if o.file != nil {
		if err := o.file.release(ctx); err != nil {
			return makeErrno(err)
		}
	}
	return wasi.ESUCCESS
}

// renumber closes to (if open) and moves the handle at from over to it.
// Preopens keep their construction-time descriptors: renumbering either side
// of the preopen range is refused.
func (t *table) renumber(ctx context.Context, from, to wasi.FD) wasi.Errno {
	if t.isPreopen(from) || t.isPreopen(to) || to < 3 {
		return wasi.ENOTSUP
	}
	o, errno := t.lookup(from)
	if errno != wasi.ESUCCESS {
		return errno
	}
	if from == to {
		return wasi.ESUCCESS
	}
	if prev, ok := t.handles[to]; ok {
		if prev.file != nil {
			prev.file.release(ctx)
		}
	}
	t.handles[to] = o
	delete(t.handles, from)
	return wasi.ESUCCESS
}
