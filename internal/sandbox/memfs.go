package sandbox

import (
	"context"
	"io"
	"sort"
	"time"
)

// NewMemFS returns the root directory of an empty in-memory file system.
//
// The tree is a plain map-based structure with no synchronization: the WASI
// scheduling model is cooperative, a single handler owns the store while it
// runs.
func NewMemFS() DirHandle {
	return &memDir{nodes: make(map[string]memNode)}
}

type memNode interface {
	kind() Kind
}

type memDir struct {
	nodes map[string]memNode
}

func (d *memDir) kind() Kind { return KindDirectory }

type memFile struct {
	data  []byte
	mtime time.Time
}

func (f *memFile) kind() Kind { return KindFile }

func (d *memDir) OpenFile(ctx context.Context, name string, create bool) (FileHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch n := d.nodes[name].(type) {
	case *memFile:
		return n, nil
	case *memDir:
		return nil, ErrIsDirectory
	}
	if !create {
		return nil, ErrNotExist
	}
	f := &memFile{mtime: time.Now()}
	d.nodes[name] = f
	return f, nil
}

func (d *memDir) OpenDir(ctx context.Context, name string, create bool) (DirHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch n := d.nodes[name].(type) {
	case *memDir:
		return n, nil
	case *memFile:
		return nil, ErrNotDirectory
	}
	if !create {
		return nil, ErrNotExist
	}
	sub := &memDir{nodes: make(map[string]memNode)}
	d.nodes[name] = sub
	return sub, nil
}

func (d *memDir) Remove(ctx context.Context, name string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, ok := d.nodes[name]
	if !ok {
		return ErrNotExist
	}
	if sub, ok := n.(*memDir); ok && len(sub.nodes) > 0 && !recursive {
		return ErrNotEmpty
	}
	delete(d.nodes, name)
	return nil
}

func (d *memDir) Entries(ctx context.Context) (Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(d.nodes))
	for name, n := range d.nodes {
		entries = append(entries, Entry{Name: name, Kind: n.kind()})
	}
	// Maps iterate in random order; a deterministic backend order makes
	// enumeration resumable across iterator resets.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return &memIterator{entries: entries}, nil
}

type memIterator struct {
	entries []Entry
	index   int
}

func (it *memIterator) Next(ctx context.Context) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if it.index == len(it.entries) {
		return Entry{}, io.EOF
	}
	e := it.entries[it.index]
	it.index++
	return e, nil
}

func (f *memFile) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memSnapshot{data: f.data, mtime: f.mtime}, nil
}

func (f *memFile) NewWritable(ctx context.Context, keepExistingData bool) (Writable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &memWritable{file: f}
	if keepExistingData {
		w.staged = append([]byte(nil), f.data...)
	}
	return w, nil
}

type memSnapshot struct {
	data  []byte
	mtime time.Time
}

func (s *memSnapshot) Size() int64        { return int64(len(s.data)) }
func (s *memSnapshot) ModTime() time.Time { return s.mtime }

func (s *memSnapshot) Read(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// memWritable stages writes and commits them to the file on Close, so that
// snapshots taken while the stream is open keep observing the previous
// contents.
type memWritable struct {
	file   *memFile
	staged []byte
	closed bool
}

func (w *memWritable) Write(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if w.closed {
		return 0, ErrClosed
	}
	if end := off + int64(len(p)); end > int64(len(w.staged)) {
		grown := make([]byte, end)
		copy(grown, w.staged)
		w.staged = grown
	}
	return copy(w.staged[off:], p), nil
}

func (w *memWritable) Truncate(ctx context.Context, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.closed {
		return ErrClosed
	}
	if size <= int64(len(w.staged)) {
		w.staged = w.staged[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, w.staged)
		w.staged = grown
	}
	return nil
}

func (w *memWritable) Close(ctx context.Context) error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	w.file.data = w.staged
	w.file.mtime = time.Now()
	return nil
}
