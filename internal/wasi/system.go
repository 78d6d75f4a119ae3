package wasi

import "context"

// System is the interface of the WASI preview 1 system calls supported by
// the runtime, one method per call.
//
// Methods receive arguments already decoded from guest memory and return
// results to be encoded back by the caller; the only exceptions are FDRead,
// FDWrite, FDReadDir and RandomGet whose buffers alias guest memory directly. Every
// method returns an Errno; ESUCCESS means the other return values are valid.
//
// The context carries the host-supplied cancel signal: implementations of
// long-running calls (PollOneOff, FDReadDir) observe it and abort with
// ECANCELED.
//
// Implementations are not required to be safe for concurrent use; the guest
// is logically paused while a call runs.
type System interface {
	// ArgsGet returns the command line arguments of the guest program,
	// including the program name at index 0.
	ArgsGet(ctx context.Context) ([]string, Errno)

	// EnvironGet returns the environment of the guest program as a list of
	// "KEY=VALUE" strings.
	EnvironGet(ctx context.Context) ([]string, Errno)

	// ClockResGet returns the resolution of the clock.
	ClockResGet(ctx context.Context, id ClockID) (Timestamp, Errno)

	// ClockTimeGet returns the current value of the clock. The precision is
	// advisory.
	ClockTimeGet(ctx context.Context, id ClockID, precision Timestamp) (Timestamp, Errno)

	// FDClose closes a file descriptor, flushing pending writes first.
	FDClose(ctx context.Context, fd FD) Errno

	// FDDataSync flushes the data of an open file to the backing store.
	FDDataSync(ctx context.Context, fd FD) Errno

	// FDStatGet returns the descriptor-level attributes of fd.
	FDStatGet(ctx context.Context, fd FD) (FDStat, Errno)

	// FDFileStatGet returns the file-level attributes of fd.
	FDFileStatGet(ctx context.Context, fd FD) (FileStat, Errno)

	// FDFileStatSetSize truncates or extends the open file to the given size.
	FDFileStatSetSize(ctx context.Context, fd FD, size FileSize) Errno

	// FDPreStatGet describes the pre-opened directory registered at fd.
	FDPreStatGet(ctx context.Context, fd FD) (PreStat, Errno)

	// FDPreStatDirName returns the mount path of the pre-opened directory.
	FDPreStatDirName(ctx context.Context, fd FD) (string, Errno)

	// FDRead reads from fd into the i/o vectors, stopping after the first
	// short read. It returns the total number of bytes read.
	FDRead(ctx context.Context, fd FD, iovecs []IOVec) (Size, Errno)

	// FDReadDir resumes the enumeration of the directory open at fd from the
	// position named by cookie and packs dirent records into buf. It returns
	// the number of bytes written; an entry that does not fit in the
	// remaining space is held back for the next call.
	FDReadDir(ctx context.Context, fd FD, buf []byte, cookie DirCookie) (Size, Errno)

	// FDRenumber atomically moves the descriptor from to the number to,
	// closing to first if it was open.
	FDRenumber(ctx context.Context, from, to FD) Errno

	// FDSeek moves the position of the open file and returns the new
	// position.
	FDSeek(ctx context.Context, fd FD, delta FileDelta, whence Whence) (FileSize, Errno)

	// FDSync flushes the data and metadata of an open file. On a directory
	// it is a no-op.
	FDSync(ctx context.Context, fd FD) Errno

	// FDTell returns the current position of the open file.
	FDTell(ctx context.Context, fd FD) (FileSize, Errno)

	// FDWrite writes the i/o vectors to fd and returns the number of bytes
	// written.
	FDWrite(ctx context.Context, fd FD, iovecs []IOVec) (Size, Errno)

	// PathCreateDirectory creates a directory at the path relative to fd.
	PathCreateDirectory(ctx context.Context, fd FD, path string) Errno

	// PathFileStatGet returns the attributes of the file or directory at the
	// path relative to fd.
	PathFileStatGet(ctx context.Context, fd FD, flags LookupFlags, path string) (FileStat, Errno)

	// PathOpen opens the file or directory at the path relative to fd and
	// returns the new descriptor.
	PathOpen(ctx context.Context, fd FD, dirFlags LookupFlags, path string, openFlags OpenFlags, rightsBase, rightsInheriting Rights, fdFlags FDFlags) (FD, Errno)

	// PathRemoveDirectory removes the directory at the path relative to fd.
	PathRemoveDirectory(ctx context.Context, fd FD, path string) Errno

	// PathUnlinkFile removes the entry at the path relative to fd.
	PathUnlinkFile(ctx context.Context, fd FD, path string) Errno

	// PollOneOff concurrently waits for the subscriptions and writes
	// completed events at the front of events, returning their count. The
	// events slice is at least as long as subscriptions.
	PollOneOff(ctx context.Context, subscriptions []Subscription, events []Event) (int, Errno)

	// ProcExit is notified before the guest is unwound with the exit code.
	ProcExit(ctx context.Context, code ExitCode) Errno

	// RandomGet fills b with cryptographically strong random bytes.
	RandomGet(ctx context.Context, b []byte) Errno

	// SchedYield yields execution; the runtime has nothing to yield to.
	SchedYield(ctx context.Context) Errno

	// Close releases every resource held by the system, including preopens.
	Close(ctx context.Context) error
}
