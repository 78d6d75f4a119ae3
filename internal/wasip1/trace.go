package wasip1

import (
	"context"
	"fmt"
	"io"

	"github.com/wasmkit/wasibox/internal/wasi"
)

// Trace wraps a wasi.System to log every call with its decoded arguments
// and result, in the spirit of strace. The wrapper delegates unchanged and
// is safe to leave in place for whole runs.
func Trace(w io.Writer, system wasi.System) wasi.System {
	return &tracer{w: w, system: system}
}

type tracer struct {
	w      io.Writer
	system wasi.System
}

func (t *tracer) printf(format string, args ...any) {
	fmt.Fprintf(t.w, format, args...)
}

func (t *tracer) ArgsGet(ctx context.Context) ([]string, wasi.Errno) {
	args, errno := t.system.ArgsGet(ctx)
	t.printf("args_get() => %q, %s\n", args, errno.Name())
	return args, errno
}

func (t *tracer) EnvironGet(ctx context.Context) ([]string, wasi.Errno) {
	env, errno := t.system.EnvironGet(ctx)
	t.printf("environ_get() => %d entries, %s\n", len(env), errno.Name())
	return env, errno
}

func (t *tracer) ClockResGet(ctx context.Context, id wasi.ClockID) (wasi.Timestamp, wasi.Errno) {
	res, errno := t.system.ClockResGet(ctx, id)
	t.printf("clock_res_get(%d) => %d, %s\n", id, res, errno.Name())
	return res, errno
}

func (t *tracer) ClockTimeGet(ctx context.Context, id wasi.ClockID, precision wasi.Timestamp) (wasi.Timestamp, wasi.Errno) {
	now, errno := t.system.ClockTimeGet(ctx, id, precision)
	t.printf("clock_time_get(%d, %d) => %d, %s\n", id, precision, now, errno.Name())
	return now, errno
}

func (t *tracer) FDClose(ctx context.Context, fd wasi.FD) wasi.Errno {
	errno := t.system.FDClose(ctx, fd)
	t.printf("fd_close(%d) => %s\n", fd, errno.Name())
	return errno
}

func (t *tracer) FDDataSync(ctx context.Context, fd wasi.FD) wasi.Errno {
	errno := t.system.FDDataSync(ctx, fd)
	t.printf("fd_datasync(%d) => %s\n", fd, errno.Name())
	return errno
}

func (t *tracer) FDStatGet(ctx context.Context, fd wasi.FD) (wasi.FDStat, wasi.Errno) {
	stat, errno := t.system.FDStatGet(ctx, fd)
	t.printf("fd_fdstat_get(%d) => {filetype:%s}, %s\n", fd, stat.FileType, errno.Name())
	return stat, errno
}

func (t *tracer) FDFileStatGet(ctx context.Context, fd wasi.FD) (wasi.FileStat, wasi.Errno) {
	stat, errno := t.system.FDFileStatGet(ctx, fd)
	t.printf("fd_filestat_get(%d) => {filetype:%s size:%d}, %s\n", fd, stat.FileType, stat.Size, errno.Name())
	return stat, errno
}

func (t *tracer) FDFileStatSetSize(ctx context.Context, fd wasi.FD, size wasi.FileSize) wasi.Errno {
	errno := t.system.FDFileStatSetSize(ctx, fd, size)
	t.printf("fd_filestat_set_size(%d, %d) => %s\n", fd, size, errno.Name())
	return errno
}

func (t *tracer) FDPreStatGet(ctx context.Context, fd wasi.FD) (wasi.PreStat, wasi.Errno) {
	stat, errno := t.system.FDPreStatGet(ctx, fd)
	t.printf("fd_prestat_get(%d) => {len:%d}, %s\n", fd, stat.PreStatDir.NameLength, errno.Name())
	return stat, errno
}

func (t *tracer) FDPreStatDirName(ctx context.Context, fd wasi.FD) (string, wasi.Errno) {
	path, errno := t.system.FDPreStatDirName(ctx, fd)
	t.printf("fd_prestat_dir_name(%d) => %q, %s\n", fd, path, errno.Name())
	return path, errno
}

func (t *tracer) FDRead(ctx context.Context, fd wasi.FD, iovecs []wasi.IOVec) (wasi.Size, wasi.Errno) {
	n, errno := t.system.FDRead(ctx, fd, iovecs)
	t.printf("fd_read(%d, %d iovecs) => %d, %s\n", fd, len(iovecs), n, errno.Name())
	return n, errno
}

func (t *tracer) FDReadDir(ctx context.Context, fd wasi.FD, buf []byte, cookie wasi.DirCookie) (wasi.Size, wasi.Errno) {
	n, errno := t.system.FDReadDir(ctx, fd, buf, cookie)
	t.printf("fd_readdir(%d, %d, cookie:%d) => %d, %s\n", fd, len(buf), cookie, n, errno.Name())
	return n, errno
}

func (t *tracer) FDRenumber(ctx context.Context, from, to wasi.FD) wasi.Errno {
	errno := t.system.FDRenumber(ctx, from, to)
	t.printf("fd_renumber(%d, %d) => %s\n", from, to, errno.Name())
	return errno
}

func (t *tracer) FDSeek(ctx context.Context, fd wasi.FD, delta wasi.FileDelta, whence wasi.Whence) (wasi.FileSize, wasi.Errno) {
	position, errno := t.system.FDSeek(ctx, fd, delta, whence)
	t.printf("fd_seek(%d, %d, %d) => %d, %s\n", fd, delta, whence, position, errno.Name())
	return position, errno
}

func (t *tracer) FDSync(ctx context.Context, fd wasi.FD) wasi.Errno {
	errno := t.system.FDSync(ctx, fd)
	t.printf("fd_sync(%d) => %s\n", fd, errno.Name())
	return errno
}

func (t *tracer) FDTell(ctx context.Context, fd wasi.FD) (wasi.FileSize, wasi.Errno) {
	position, errno := t.system.FDTell(ctx, fd)
	t.printf("fd_tell(%d) => %d, %s\n", fd, position, errno.Name())
	return position, errno
}

func (t *tracer) FDWrite(ctx context.Context, fd wasi.FD, iovecs []wasi.IOVec) (wasi.Size, wasi.Errno) {
	n, errno := t.system.FDWrite(ctx, fd, iovecs)
	t.printf("fd_write(%d, %d iovecs) => %d, %s\n", fd, len(iovecs), n, errno.Name())
	return n, errno
}

func (t *tracer) PathCreateDirectory(ctx context.Context, fd wasi.FD, path string) wasi.Errno {
	errno := t.system.PathCreateDirectory(ctx, fd, path)
	t.printf("path_create_directory(%d, %q) => %s\n", fd, path, errno.Name())
	return errno
}

func (t *tracer) PathFileStatGet(ctx context.Context, fd wasi.FD, flags wasi.LookupFlags, path string) (wasi.FileStat, wasi.Errno) {
	stat, errno := t.system.PathFileStatGet(ctx, fd, flags, path)
	t.printf("path_filestat_get(%d, %q) => {filetype:%s size:%d}, %s\n", fd, path, stat.FileType, stat.Size, errno.Name())
	return stat, errno
}

func (t *tracer) PathOpen(ctx context.Context, fd wasi.FD, dirFlags wasi.LookupFlags, path string, openFlags wasi.OpenFlags, rightsBase, rightsInheriting wasi.Rights, fdFlags wasi.FDFlags) (wasi.FD, wasi.Errno) {
	newFD, errno := t.system.PathOpen(ctx, fd, dirFlags, path, openFlags, rightsBase, rightsInheriting, fdFlags)
	t.printf("path_open(%d, %q, oflags:%#x) => %d, %s\n", fd, path, uint16(openFlags), newFD, errno.Name())
	return newFD, errno
}

func (t *tracer) PathRemoveDirectory(ctx context.Context, fd wasi.FD, path string) wasi.Errno {
	errno := t.system.PathRemoveDirectory(ctx, fd, path)
	t.printf("path_remove_directory(%d, %q) => %s\n", fd, path, errno.Name())
	return errno
}

func (t *tracer) PathUnlinkFile(ctx context.Context, fd wasi.FD, path string) wasi.Errno {
	errno := t.system.PathUnlinkFile(ctx, fd, path)
	t.printf("path_unlink_file(%d, %q) => %s\n", fd, path, errno.Name())
	return errno
}

func (t *tracer) PollOneOff(ctx context.Context, subscriptions []wasi.Subscription, events []wasi.Event) (int, wasi.Errno) {
	n, errno := t.system.PollOneOff(ctx, subscriptions, events)
	t.printf("poll_oneoff(%d subscriptions) => %d events, %s\n", len(subscriptions), n, errno.Name())
	return n, errno
}

func (t *tracer) ProcExit(ctx context.Context, code wasi.ExitCode) wasi.Errno {
	t.printf("proc_exit(%d)\n", code)
	return t.system.ProcExit(ctx, code)
}

func (t *tracer) RandomGet(ctx context.Context, b []byte) wasi.Errno {
	errno := t.system.RandomGet(ctx, b)
	t.printf("random_get(%d) => %s\n", len(b), errno.Name())
	return errno
}

func (t *tracer) SchedYield(ctx context.Context) wasi.Errno {
	errno := t.system.SchedYield(ctx)
	t.printf("sched_yield() => %s\n", errno.Name())
	return errno
}

func (t *tracer) Close(ctx context.Context) error {
	return t.system.Close(ctx)
}
