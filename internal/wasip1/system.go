// Package wasip1 implements the WASI preview 1 system call surface on top of
// the sandbox storage abstraction, and exposes it to WebAssembly guests as
// the wasi_snapshot_preview1 host module.
package wasip1

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"golang.org/x/exp/slices"

	"github.com/wasmkit/wasibox/internal/sandbox"
	"github.com/wasmkit/wasibox/internal/wasi"
)

// System is the sandboxed implementation of wasi.System.
//
// Paths are resolved from the pre-opened directories only: an absolute guest
// path selects the preopen with the longest matching mount prefix, a
// relative path resolves within the preopen identified by the dir fd passed
// to the call. Escaping a preopen with ".." is refused with ENOTCAPABLE.
//
// An instance is not safe for concurrent use; the guest is paused while a
// call runs.
type System struct {
	// Args are the command line arguments returned by ArgsGet, including
	// the program name at index 0.
	Args []string

	// Environ is the environment returned by EnvironGet, as "KEY=VALUE"
	// entries.
	Environ []string

	// Stdin, Stdout and Stderr back the reserved descriptors 0, 1 and 2.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Realtime returns the wall clock in nanoseconds since the epoch.
	Realtime func(context.Context) (wasi.Timestamp, error)

	// Monotonic returns a non-decreasing clock in nanoseconds.
	Monotonic func(context.Context) (wasi.Timestamp, error)

	// Rand is the source of RandomGet bytes.
	Rand io.Reader

	// Exit, if set, is notified with the code passed to ProcExit before the
	// guest is unwound.
	Exit func(context.Context, wasi.ExitCode) error

	fds *table
}

func (s *System) table() *table {
	if s.fds == nil {
		s.fds = newTable()
	}
	return s.fds
}

// Preopen grants the guest access to dir under the given mount path. All
// preopens must be registered before the guest starts issuing calls.
func (s *System) Preopen(path string, dir sandbox.DirHandle) wasi.FD {
	return s.table().addPreopen(path, dir)
}

func (s *System) ArgsGet(ctx context.Context) ([]string, wasi.Errno) {
	return s.Args, wasi.ESUCCESS
}

func (s *System) EnvironGet(ctx context.Context) ([]string, wasi.Errno) {
	return s.Environ, wasi.ESUCCESS
}

// clockResolution is the conservative resolution reported for both clocks.
const clockResolution = wasi.Timestamp(time.Millisecond)

func (s *System) ClockResGet(ctx context.Context, id wasi.ClockID) (wasi.Timestamp, wasi.Errno) {
	switch id {
	case wasi.Realtime, wasi.Monotonic:
		return clockResolution, wasi.ESUCCESS
	default:
		return 0, wasi.ENOSYS
	}
}

func (s *System) ClockTimeGet(ctx context.Context, id wasi.ClockID, precision wasi.Timestamp) (wasi.Timestamp, wasi.Errno) {
	var clock func(context.Context) (wasi.Timestamp, error)
	switch id {
	case wasi.Realtime:
		clock = s.Realtime
	case wasi.Monotonic:
		clock = s.Monotonic
	default:
		return 0, wasi.ENOSYS
	}
	if clock == nil {
		return 0, wasi.ENOSYS
	}
	t, err := clock(ctx)
	if err != nil {
		return 0, makeErrno(err)
	}
	return t, wasi.ESUCCESS
}

func (s *System) FDClose(ctx context.Context, fd wasi.FD) wasi.Errno {
	return s.table().close(ctx, fd)
}

func (s *System) FDRenumber(ctx context.Context, from, to wasi.FD) wasi.Errno {
	return s.table().renumber(ctx, from, to)
}

func (s *System) FDDataSync(ctx context.Context, fd wasi.FD) wasi.Errno {
	f, errno := s.table().lookupFile(fd)
	if errno != wasi.ESUCCESS {
		return errno
	}
	return makeErrno(f.flush(ctx))
}

func (s *System) FDSync(ctx context.Context, fd wasi.FD) wasi.Errno {
	o, errno := s.table().lookup(fd)
	if errno != wasi.ESUCCESS {
		return errno
	}
	// Syncing a directory has nothing to flush.
	if o.file == nil {
		return wasi.ESUCCESS
	}
	return makeErrno(o.file.flush(ctx))
}

func (s *System) FDStatGet(ctx context.Context, fd wasi.FD) (wasi.FDStat, wasi.Errno) {
	stat := wasi.FDStat{
		RightsBase:       wasi.AllRights,
		RightsInheriting: wasi.AllRights &^ wasi.PathSymlinkRight,
	}
	switch {
	case fd >= 0 && fd < 3:
		stat.FileType = wasi.CharacterDeviceType
	default:
		o, errno := s.table().lookup(fd)
		if errno != wasi.ESUCCESS {
			return wasi.FDStat{}, errno
		}
		if o.file != nil {
			stat.FileType = wasi.RegularFileType
		} else {
			stat.FileType = wasi.DirectoryType
		}
	}
	return stat, wasi.ESUCCESS
}

func (s *System) FDFileStatGet(ctx context.Context, fd wasi.FD) (wasi.FileStat, wasi.Errno) {
	if fd >= 0 && fd < 3 {
		return wasi.FileStat{FileType: wasi.CharacterDeviceType, NLink: 0}, wasi.ESUCCESS
	}
	o, errno := s.table().lookup(fd)
	if errno != wasi.ESUCCESS {
		return wasi.FileStat{}, errno
	}
	if o.dir != nil {
		return wasi.FileStat{FileType: wasi.DirectoryType}, wasi.ESUCCESS
	}
	if err := o.file.flush(ctx); err != nil {
		return wasi.FileStat{}, makeErrno(err)
	}
	snapshot, err := o.file.load(ctx)
	if err != nil {
		return wasi.FileStat{}, makeErrno(err)
	}
	return fileStat(snapshot), wasi.ESUCCESS
}

func fileStat(snapshot sandbox.Snapshot) wasi.FileStat {
	mtime := wasi.Timestamp(snapshot.ModTime().UnixNano())
	return wasi.FileStat{
		FileType:   wasi.RegularFileType,
		Size:       wasi.FileSize(snapshot.Size()),
		AccessTime: mtime,
		ModifyTime: mtime,
		ChangeTime: mtime,
	}
}

func (s *System) FDFileStatSetSize(ctx context.Context, fd wasi.FD, size wasi.FileSize) wasi.Errno {
	f, errno := s.table().lookupFile(fd)
	if errno != wasi.ESUCCESS {
		return errno
	}
	w, err := f.writer(ctx)
	if err != nil {
		return makeErrno(err)
	}
	if err := w.Truncate(ctx, int64(size)); err != nil {
		return makeErrno(err)
	}
	return makeErrno(f.flush(ctx))
}

func (s *System) FDPreStatGet(ctx context.Context, fd wasi.FD) (wasi.PreStat, wasi.Errno) {
	p, errno := s.table().lookupPreopen(fd)
	if errno != wasi.ESUCCESS {
		return wasi.PreStat{}, errno
	}
	return wasi.PreStat{
		Type:       wasi.PreOpenDir,
		PreStatDir: wasi.PreStatDir{NameLength: wasi.Size(len(p.path))},
	}, wasi.ESUCCESS
}

func (s *System) FDPreStatDirName(ctx context.Context, fd wasi.FD) (string, wasi.Errno) {
	p, errno := s.table().lookupPreopen(fd)
	if errno != wasi.ESUCCESS {
		return "", errno
	}
	return p.path, wasi.ESUCCESS
}

func (s *System) FDRead(ctx context.Context, fd wasi.FD, iovecs []wasi.IOVec) (wasi.Size, wasi.Errno) {
	if fd == 0 {
		return s.readStdin(iovecs)
	}
	f, errno := s.table().lookupFile(fd)
	if errno != wasi.ESUCCESS {
		return 0, errno
	}
	// Flush pending writes so reads observe them.
	if err := f.flush(ctx); err != nil {
		return 0, makeErrno(err)
	}
	snapshot, err := f.load(ctx)
	if err != nil {
		return 0, makeErrno(err)
	}
	size := wasi.Size(0)
	for _, iov := range iovecs {
		if len(iov) == 0 {
			continue
		}
		n, err := snapshot.Read(ctx, iov, f.position)
		f.position += int64(n)
		size += wasi.Size(n)
		if err == io.EOF || n < len(iov) {
			break
		}
		if err != nil {
			return size, makeErrno(err)
		}
	}
	return size, wasi.ESUCCESS
}

func (s *System) readStdin(iovecs []wasi.IOVec) (wasi.Size, wasi.Errno) {
	if s.Stdin == nil {
		return 0, wasi.ESUCCESS
	}
	size := wasi.Size(0)
	for _, iov := range iovecs {
		if len(iov) == 0 {
			continue
		}
		n, err := s.Stdin.Read(iov)
		size += wasi.Size(n)
		if err == io.EOF || n < len(iov) {
			break
		}
		if err != nil {
			return size, makeErrno(err)
		}
	}
	return size, wasi.ESUCCESS
}

func (s *System) FDWrite(ctx context.Context, fd wasi.FD, iovecs []wasi.IOVec) (wasi.Size, wasi.Errno) {
	switch fd {
	case 1:
		return s.writeStream(s.Stdout, iovecs)
	case 2:
		return s.writeStream(s.Stderr, iovecs)
	}
	f, errno := s.table().lookupFile(fd)
	if errno != wasi.ESUCCESS {
		return 0, errno
	}
	w, err := f.writer(ctx)
	if err != nil {
		return 0, makeErrno(err)
	}
	size := wasi.Size(0)
	for _, iov := range iovecs {
		n, err := w.Write(ctx, iov, f.position)
		f.position += int64(n)
		size += wasi.Size(n)
		if err != nil {
			return size, makeErrno(err)
		}
		if n < len(iov) {
			break
		}
	}
	return size, wasi.ESUCCESS
}

func (s *System) writeStream(w io.Writer, iovecs []wasi.IOVec) (wasi.Size, wasi.Errno) {
	if w == nil {
		return 0, wasi.EBADF
	}
	size := wasi.Size(0)
	for _, iov := range iovecs {
		n, err := w.Write(iov)
		size += wasi.Size(n)
		if err != nil {
			return size, makeErrno(err)
		}
	}
	return size, wasi.ESUCCESS
}

func (s *System) FDSeek(ctx context.Context, fd wasi.FD, delta wasi.FileDelta, whence wasi.Whence) (wasi.FileSize, wasi.Errno) {
	f, errno := s.table().lookupFile(fd)
	if errno != wasi.ESUCCESS {
		return 0, errno
	}
	var base int64
	switch whence {
	case wasi.SeekStart:
		base = 0
	case wasi.SeekCurrent:
		base = f.position
	case wasi.SeekEnd:
		// The staged writer holds the authoritative size.
		if err := f.flush(ctx); err != nil {
			return 0, makeErrno(err)
		}
		snapshot, err := f.load(ctx)
		if err != nil {
			return 0, makeErrno(err)
		}
		base = snapshot.Size()
	default:
		return 0, wasi.EINVAL
	}
	position := base + int64(delta)
	if position < 0 {
		return 0, wasi.EINVAL
	}
	f.position = position
	return wasi.FileSize(position), wasi.ESUCCESS
}

func (s *System) FDTell(ctx context.Context, fd wasi.FD) (wasi.FileSize, wasi.Errno) {
	f, errno := s.table().lookupFile(fd)
	if errno != wasi.ESUCCESS {
		return 0, errno
	}
	return wasi.FileSize(f.position), wasi.ESUCCESS
}

func (s *System) FDReadDir(ctx context.Context, fd wasi.FD, buf []byte, cookie wasi.DirCookie) (wasi.Size, wasi.Errno) {
	d, errno := s.table().lookupDir(fd)
	if errno != wasi.ESUCCESS {
		return 0, errno
	}
	r, err := s.dirReaderAt(ctx, d, cookie)
	if err != nil {
		return 0, makeErrno(err)
	}
	var dirent [wasi.SizeOfDirent]byte
	size := wasi.Size(0)
	for {
		e, err := r.next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return size, makeErrno(err)
		}
		if int(size)+wasi.SizeOfDirent+len(e.Name) > len(buf) {
			// Held back in the reader for the next call.
			break
		}
		entry := wasi.DirEntry{Next: r.pos + 1, Type: wasi.RegularFileType, Name: e.Name}
		if e.Kind == sandbox.KindDirectory {
			entry.Type = wasi.DirectoryType
		}
		entry.StoreDirent(dirent[:])
		size += wasi.Size(copy(buf[size:], dirent[:]))
		size += wasi.Size(copy(buf[size:], e.Name))
		r.commit()
	}
	return size, wasi.ESUCCESS
}

// dirReaderAt positions the directory's resumable enumerator at cookie,
// reusing the stored enumerator when it is already there and rebuilding it
// otherwise.
func (s *System) dirReaderAt(ctx context.Context, d *openDir, cookie wasi.DirCookie) (*dirReader, error) {
	if d.reader != nil && d.reader.pos == cookie {
		return d.reader, nil
	}
	it, err := d.dir.Entries(ctx)
	if err != nil {
		return nil, err
	}
	r := &dirReader{it: it}
	for r.pos < cookie {
		if _, err := r.next(ctx); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		r.commit()
	}
	d.reader = r
	return r, nil
}

// resolve locates the preopen a guest path refers to and the path relative
// to it, not yet cleaned. Absolute paths select a preopen by longest mount
// prefix; relative paths resolve within the preopen identified by fd.
func (s *System) resolve(fd wasi.FD, path string) (*preopen, string, wasi.Errno) {
	if isAbs(path) {
		i, rel, errno := selectPreopen(s.table().preopens, path)
		if errno != wasi.ESUCCESS {
			return nil, "", errno
		}
		return &s.table().preopens[i], rel, wasi.ESUCCESS
	}
	p, errno := s.table().lookupPreopen(fd)
	if errno != wasi.ESUCCESS {
		return nil, "", errno
	}
	return p, path, wasi.ESUCCESS
}

func (s *System) PathOpen(ctx context.Context, fd wasi.FD, dirFlags wasi.LookupFlags, path string, openFlags wasi.OpenFlags, rightsBase, rightsInheriting wasi.Rights, fdFlags wasi.FDFlags) (wasi.FD, wasi.Errno) {
	if fdFlags.Has(wasi.NonBlock) {
		// The backend is always blocking from the guest's point of view.
		log.Printf("WARN: path_open %q: ignoring NONBLOCK", path)
		fdFlags &^= wasi.NonBlock
	}
	if fdFlags != 0 {
		return -1, wasi.ENOSYS
	}
	p, rel, errno := s.resolve(fd, path)
	if errno != wasi.ESUCCESS {
		return -1, errno
	}
	parent, name, cleaned, errno := resolvePath(ctx, p.dir, rel)
	if errno != wasi.ESUCCESS {
		return -1, errno
	}

	create := openFlags.Has(wasi.OpenCreate)
	exclusive := openFlags.Has(wasi.OpenExclusive)
	truncate := openFlags.Has(wasi.OpenTruncate)

	if name == "" {
		// The path names the preopen root itself.
		if create && exclusive {
			return -1, wasi.EEXIST
		}
		if truncate {
			return -1, wasi.EISDIR
		}
		return s.table().addDir(p.path, p.dir), wasi.ESUCCESS
	}

	if create && exclusive {
		switch _, err := parent.OpenFile(ctx, name, false); {
		case err == nil, errorsIsDirectory(err):
			return -1, wasi.EEXIST
		case errorsNotExist(err):
		default:
			return -1, makeErrno(err)
		}
	}

	logicalPath := joinPath(p.path, cleaned)

	if openFlags.Has(wasi.OpenDirectory) {
		if truncate {
			return -1, wasi.EISDIR
		}
		dir, err := parent.OpenDir(ctx, name, create)
		if err != nil {
			return -1, makeErrno(err)
		}
		return s.table().addDir(logicalPath, dir), wasi.ESUCCESS
	}

	file, err := parent.OpenFile(ctx, name, create)
	if errorsIsDirectory(err) {
		if truncate {
			return -1, wasi.EISDIR
		}
		dir, err := parent.OpenDir(ctx, name, false)
		if err != nil {
			return -1, makeErrno(err)
		}
		return s.table().addDir(logicalPath, dir), wasi.ESUCCESS
	}
	if err != nil {
		return -1, makeErrno(err)
	}
	if truncate {
		w, err := file.NewWritable(ctx, false)
		if err != nil {
			return -1, makeErrno(err)
		}
		if err := w.Close(ctx); err != nil {
			return -1, makeErrno(err)
		}
	}
	return s.table().addFile(logicalPath, file), wasi.ESUCCESS
}

func (s *System) PathCreateDirectory(ctx context.Context, fd wasi.FD, path string) wasi.Errno {
	p, rel, errno := s.resolve(fd, path)
	if errno != wasi.ESUCCESS {
		return errno
	}
	parent, name, _, errno := resolvePath(ctx, p.dir, rel)
	if errno != wasi.ESUCCESS {
		return errno
	}
	if name == "" {
		return wasi.EEXIST
	}
	switch _, err := parent.OpenDir(ctx, name, false); {
	case err == nil, errorsNotDirectory(err):
		return wasi.EEXIST
	case errorsNotExist(err):
	default:
		return makeErrno(err)
	}
	if _, err := parent.OpenDir(ctx, name, true); err != nil {
		return makeErrno(err)
	}
	return wasi.ESUCCESS
}

func (s *System) PathRemoveDirectory(ctx context.Context, fd wasi.FD, path string) wasi.Errno {
	p, rel, errno := s.resolve(fd, path)
	if errno != wasi.ESUCCESS {
		return errno
	}
	parent, name, _, errno := resolvePath(ctx, p.dir, rel)
	if errno != wasi.ESUCCESS {
		return errno
	}
	if name == "" {
		// The preopen root is a capability, not an entry.
		return wasi.EACCES
	}
	if _, err := parent.OpenDir(ctx, name, false); err != nil {
		return makeErrno(err)
	}
	return makeErrno(parent.Remove(ctx, name, false))
}

func (s *System) PathUnlinkFile(ctx context.Context, fd wasi.FD, path string) wasi.Errno {
	p, rel, errno := s.resolve(fd, path)
	if errno != wasi.ESUCCESS {
		return errno
	}
	parent, name, _, errno := resolvePath(ctx, p.dir, rel)
	if errno != wasi.ESUCCESS {
		return errno
	}
	if name == "" {
		return wasi.EACCES
	}
	return makeErrno(parent.Remove(ctx, name, false))
}

func (s *System) PathFileStatGet(ctx context.Context, fd wasi.FD, flags wasi.LookupFlags, path string) (wasi.FileStat, wasi.Errno) {
	p, rel, errno := s.resolve(fd, path)
	if errno != wasi.ESUCCESS {
		return wasi.FileStat{}, errno
	}
	parent, name, _, errno := resolvePath(ctx, p.dir, rel)
	if errno != wasi.ESUCCESS {
		return wasi.FileStat{}, errno
	}
	if name == "" {
		return wasi.FileStat{FileType: wasi.DirectoryType}, wasi.ESUCCESS
	}
	file, err := parent.OpenFile(ctx, name, false)
	if errorsIsDirectory(err) {
		return wasi.FileStat{FileType: wasi.DirectoryType}, wasi.ESUCCESS
	}
	if err != nil {
		return wasi.FileStat{}, makeErrno(err)
	}
	snapshot, err := file.Snapshot(ctx)
	if err != nil {
		return wasi.FileStat{}, makeErrno(err)
	}
	stat := fileStat(snapshot)
	if c, ok := snapshot.(io.Closer); ok {
		c.Close()
	}
	return stat, wasi.ESUCCESS
}

func (s *System) PollOneOff(ctx context.Context, subscriptions []wasi.Subscription, events []wasi.Event) (int, wasi.Errno) {
	if len(subscriptions) == 0 || len(events) < len(subscriptions) {
		return 0, wasi.EINVAL
	}
	for i := range events {
		events[i] = wasi.Event{}
	}

	type clockWait struct {
		index   int
		timeout time.Duration
	}
	numEvents := 0
	clocks := make([]clockWait, 0, len(subscriptions))

	for i := range subscriptions {
		sub := &subscriptions[i]
		switch sub.EventType {
		case wasi.FDReadEvent, wasi.FDWriteEvent:
			// There is no asynchronous fd readiness: report it on the event
			// rather than failing the whole poll.
			events[numEvents] = errorEvent(sub, wasi.ENOSYS)
			numEvents++
		case wasi.ClockEvent:
			c := sub.Clock
			timeout := c.Timeout.Duration()
			if c.Flags.Has(wasi.Abstime) {
				now, errno := s.ClockTimeGet(ctx, c.ID, c.Precision)
				if errno != wasi.ESUCCESS {
					events[numEvents] = errorEvent(sub, errno)
					numEvents++
					continue
				}
				timeout -= now.Duration()
			}
			if timeout < 0 {
				timeout = 0
			}
			clocks = append(clocks, clockWait{index: i, timeout: timeout})
		default:
			events[numEvents] = errorEvent(sub, wasi.EINVAL)
			numEvents++
		}
	}

	// Only sleep when nothing has completed yet; errors above already made
	// the poll observable progress.
	if numEvents == 0 && len(clocks) > 0 {
		slices.SortFunc(clocks, func(a, b clockWait) bool { return a.timeout < b.timeout })
		wait := clocks[0].timeout
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return 0, wasi.ECANCELED
			}
		}
		for _, c := range clocks {
			sub := &subscriptions[c.index]
			if c.timeout <= wait+sub.Clock.Precision.Duration() {
				events[numEvents] = wasi.Event{
					UserData:  sub.UserData,
					EventType: sub.EventType,
				}
				numEvents++
			}
		}
	}
	return numEvents, wasi.ESUCCESS
}

func errorEvent(sub *wasi.Subscription, errno wasi.Errno) wasi.Event {
	return wasi.Event{
		UserData:  sub.UserData,
		EventType: sub.EventType,
		Errno:     errno,
	}
}

func (s *System) ProcExit(ctx context.Context, code wasi.ExitCode) wasi.Errno {
	if s.Exit != nil {
		return makeErrno(s.Exit(ctx, code))
	}
	return wasi.ESUCCESS
}

func (s *System) RandomGet(ctx context.Context, b []byte) wasi.Errno {
	if s.Rand == nil {
		return wasi.ENOSYS
	}
	if _, err := io.ReadFull(s.Rand, b); err != nil {
		return wasi.EIO
	}
	return wasi.ESUCCESS
}

func (s *System) SchedYield(ctx context.Context) wasi.Errno {
	return wasi.ESUCCESS
}

// Close flushes and releases every open file and directory, preopens
// included.
func (s *System) Close(ctx context.Context) error {
	t := s.table()
	var firstErr error
	for fd, o := range t.handles {
		delete(t.handles, fd)
		if o.file != nil {
			if err := o.file.release(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func errorsNotExist(err error) bool     { return errors.Is(err, sandbox.ErrNotExist) }
func errorsIsDirectory(err error) bool  { return errors.Is(err, sandbox.ErrIsDirectory) }
func errorsNotDirectory(err error) bool { return errors.Is(err, sandbox.ErrNotDirectory) }
