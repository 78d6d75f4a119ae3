package wasip1

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/wasmkit/wasibox/internal/assert"
	"github.com/wasmkit/wasibox/internal/sandbox"
	"github.com/wasmkit/wasibox/internal/wasi"
)

func newTestSystem(t *testing.T, mounts map[string]sandbox.DirHandle) *System {
	t.Helper()
	epoch := time.Now()
	s := &System{
		Args:    []string{"test.wasm"},
		Environ: []string{"LANG=C"},
		Realtime: func(context.Context) (wasi.Timestamp, error) {
			return wasi.Timestamp(time.Now().UnixNano()), nil
		},
		Monotonic: func(context.Context) (wasi.Timestamp, error) {
			return wasi.Timestamp(time.Since(epoch)), nil
		},
		Rand: rand.Reader,
	}
	for _, path := range sortedKeys(mounts) {
		s.Preopen(path, mounts[path])
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func sortedKeys(m map[string]sandbox.DirHandle) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func readAll(ctx context.Context, t *testing.T, s *System, fd wasi.FD) []byte {
	t.Helper()
	buf := make([]byte, 4096)
	n, errno := s.FDRead(ctx, fd, []wasi.IOVec{buf})
	assert.Equal(t, errno, wasi.ESUCCESS)
	return buf[:n]
}

func TestHelloWrite(t *testing.T) {
	ctx := context.Background()
	root := sandbox.NewMemFS()
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": root})

	fd, errno := s.PathOpen(ctx, 3, 0, "/sandbox/hello.txt", wasi.OpenCreate, wasi.AllRights, wasi.AllRights, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, fd, 4)

	n, errno := s.FDWrite(ctx, fd, []wasi.IOVec{[]byte("hi")})
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, n, 2)
	assert.Equal(t, s.FDClose(ctx, fd), wasi.ESUCCESS)

	b, err := sandbox.ReadFile(ctx, root, "hello.txt")
	assert.OK(t, err)
	assert.Equal(t, string(b), "hi")
}

func TestReadBack(t *testing.T) {
	ctx := context.Background()
	root := sandbox.NewMemFS()
	assert.OK(t, sandbox.WriteFile(ctx, root, "input.txt", []byte("hello from input.txt\n")))
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": root})

	fd, errno := s.PathOpen(ctx, 3, 0, "/sandbox/input.txt", 0, wasi.AllRights, wasi.AllRights, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)

	b := readAll(ctx, t, s, fd)
	assert.Equal(t, len(b), 21)
	assert.Equal(t, string(b), "hello from input.txt\n")
}

func TestWriteAdvancesPosition(t *testing.T) {
	ctx := context.Background()
	root := sandbox.NewMemFS()
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": root})

	fd, errno := s.PathOpen(ctx, 3, 0, "out", wasi.OpenCreate, wasi.AllRights, wasi.AllRights, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)

	position, errno := s.FDTell(ctx, fd)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, position, 0)

	n, errno := s.FDWrite(ctx, fd, []wasi.IOVec{[]byte("one"), []byte("two")})
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, n, 6)

	position, errno = s.FDSeek(ctx, fd, 0, wasi.SeekCurrent)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, position, 6)

	// Reads observe what was written once the position is rewound.
	position, errno = s.FDSeek(ctx, fd, 0, wasi.SeekStart)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, position, 0)
	assert.Equal(t, string(readAll(ctx, t, s, fd)), "onetwo")
}

func TestSeekEnd(t *testing.T) {
	ctx := context.Background()
	root := sandbox.NewMemFS()
	assert.OK(t, sandbox.WriteFile(ctx, root, "f", []byte("0123456789")))
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": root})

	fd, errno := s.PathOpen(ctx, 3, 0, "f", 0, wasi.AllRights, wasi.AllRights, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)

	position, errno := s.FDSeek(ctx, fd, -4, wasi.SeekEnd)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, position, 6)
	assert.Equal(t, string(readAll(ctx, t, s, fd)), "6789")

	_, errno = s.FDSeek(ctx, fd, -1, wasi.SeekStart)
	assert.Equal(t, errno, wasi.EINVAL)
}

func TestOpenExclusiveExisting(t *testing.T) {
	ctx := context.Background()
	root := sandbox.NewMemFS()
	assert.OK(t, sandbox.WriteFile(ctx, root, "f", nil))
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": root})

	_, errno := s.PathOpen(ctx, 3, 0, "f", wasi.OpenCreate|wasi.OpenExclusive, wasi.AllRights, wasi.AllRights, 0)
	assert.Equal(t, errno, wasi.EEXIST)

	// Without EXCLUSIVE the existing file opens fine.
	_, errno = s.PathOpen(ctx, 3, 0, "f", wasi.OpenCreate, wasi.AllRights, wasi.AllRights, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)
}

func TestOpenTruncate(t *testing.T) {
	ctx := context.Background()
	root := sandbox.NewMemFS()
	assert.OK(t, sandbox.WriteFile(ctx, root, "f", []byte("previous contents")))
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": root})

	fd, errno := s.PathOpen(ctx, 3, 0, "f", wasi.OpenTruncate, wasi.AllRights, wasi.AllRights, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, len(readAll(ctx, t, s, fd)), 0)

	// Truncating a directory is refused.
	_, errno = s.PathOpen(ctx, 3, 0, "/sandbox", wasi.OpenTruncate, wasi.AllRights, wasi.AllRights, 0)
	assert.Equal(t, errno, wasi.EISDIR)
}

func TestOpenDirectoryFlags(t *testing.T) {
	ctx := context.Background()
	root := sandbox.NewMemFS()
	_, err := root.OpenDir(ctx, "sub", true)
	assert.OK(t, err)
	assert.OK(t, sandbox.WriteFile(ctx, root, "f", nil))
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": root})

	fd, errno := s.PathOpen(ctx, 3, 0, "sub", wasi.OpenDirectory, wasi.AllRights, wasi.AllRights, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)

	stat, errno := s.FDStatGet(ctx, fd)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, stat.FileType, wasi.DirectoryType)

	_, errno = s.PathOpen(ctx, 3, 0, "f", wasi.OpenDirectory, wasi.AllRights, wasi.AllRights, 0)
	assert.Equal(t, errno, wasi.ENOTDIR)
}

func TestOpenNonBlockIsIgnored(t *testing.T) {
	ctx := context.Background()
	root := sandbox.NewMemFS()
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": root})

	_, errno := s.PathOpen(ctx, 3, 0, "f", wasi.OpenCreate, wasi.AllRights, wasi.AllRights, wasi.NonBlock)
	assert.Equal(t, errno, wasi.ESUCCESS)

	_, errno = s.PathOpen(ctx, 3, 0, "g", wasi.OpenCreate, wasi.AllRights, wasi.AllRights, wasi.Append)
	assert.Equal(t, errno, wasi.ENOSYS)
}

func TestOpenMissingWithoutCreate(t *testing.T) {
	ctx := context.Background()
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": sandbox.NewMemFS()})

	_, errno := s.PathOpen(ctx, 3, 0, "missing.txt", 0, wasi.AllRights, wasi.AllRights, 0)
	assert.Equal(t, errno, wasi.ENOENT)
}

func TestEscapeDenied(t *testing.T) {
	ctx := context.Background()
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": sandbox.NewMemFS()})

	_, errno := s.PathFileStatGet(ctx, 3, 0, "../etc/passwd")
	assert.Equal(t, errno, wasi.ENOTCAPABLE)

	_, errno = s.PathOpen(ctx, 3, 0, "a/../../etc/passwd", 0, wasi.AllRights, wasi.AllRights, 0)
	assert.Equal(t, errno, wasi.ENOTCAPABLE)
}

func TestFDReadOnDirectory(t *testing.T) {
	ctx := context.Background()
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": sandbox.NewMemFS()})

	buf := make([]byte, 16)
	_, errno := s.FDRead(ctx, 3, []wasi.IOVec{buf})
	assert.Equal(t, errno, wasi.EISDIR)

	_, errno = s.FDWrite(ctx, 3, []wasi.IOVec{buf})
	assert.Equal(t, errno, wasi.EISDIR)

	_, errno = s.FDSeek(ctx, 3, 0, wasi.SeekCurrent)
	assert.Equal(t, errno, wasi.EISDIR)
}

func TestFDCloseBadFD(t *testing.T) {
	ctx := context.Background()
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": sandbox.NewMemFS()})
	assert.Equal(t, s.FDClose(ctx, 42), wasi.EBADF)
}

func TestPreStat(t *testing.T) {
	ctx := context.Background()
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": sandbox.NewMemFS()})

	stat, errno := s.FDPreStatGet(ctx, 3)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, stat.Type, wasi.PreOpenDir)
	assert.Equal(t, stat.PreStatDir.NameLength, wasi.Size(len("/sandbox")))

	name, errno := s.FDPreStatDirName(ctx, 3)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, name, "/sandbox")

	_, errno = s.FDPreStatGet(ctx, 4)
	assert.Equal(t, errno, wasi.EBADF)
}

func TestFileStat(t *testing.T) {
	ctx := context.Background()
	root := sandbox.NewMemFS()
	assert.OK(t, sandbox.WriteFile(ctx, root, "f", []byte("0123")))
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": root})

	stat, errno := s.PathFileStatGet(ctx, 3, 0, "f")
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, stat.FileType, wasi.RegularFileType)
	assert.Equal(t, stat.Size, 4)
	assert.Equal(t, stat.INode, 0)
	assert.Equal(t, stat.AccessTime, stat.ModifyTime)

	stat, errno = s.PathFileStatGet(ctx, 3, 0, ".")
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, stat.FileType, wasi.DirectoryType)
	assert.Equal(t, stat.Size, 0)

	stat, errno = s.FDFileStatGet(ctx, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, stat.FileType, wasi.CharacterDeviceType)
}

func TestFileStatSetSize(t *testing.T) {
	ctx := context.Background()
	root := sandbox.NewMemFS()
	assert.OK(t, sandbox.WriteFile(ctx, root, "f", []byte("0123456789")))
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": root})

	fd, errno := s.PathOpen(ctx, 3, 0, "f", 0, wasi.AllRights, wasi.AllRights, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, s.FDFileStatSetSize(ctx, fd, 4), wasi.ESUCCESS)

	stat, errno := s.FDFileStatGet(ctx, fd)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, stat.Size, 4)

	assert.Equal(t, s.FDFileStatSetSize(ctx, 3, 0), wasi.EISDIR)
}

func TestCreateAndRemoveDirectory(t *testing.T) {
	ctx := context.Background()
	root := sandbox.NewMemFS()
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": root})

	assert.Equal(t, s.PathCreateDirectory(ctx, 3, "sub"), wasi.ESUCCESS)
	assert.Equal(t, s.PathCreateDirectory(ctx, 3, "sub"), wasi.EEXIST)

	assert.OK(t, sandbox.WriteFile(ctx, root, "f", nil))
	assert.Equal(t, s.PathCreateDirectory(ctx, 3, "f"), wasi.EEXIST)

	assert.Equal(t, s.PathRemoveDirectory(ctx, 3, "f"), wasi.ENOTDIR)
	assert.Equal(t, s.PathRemoveDirectory(ctx, 3, "sub"), wasi.ESUCCESS)
	assert.Equal(t, s.PathRemoveDirectory(ctx, 3, "sub"), wasi.ENOENT)

	// The preopen root itself is not removable.
	assert.Equal(t, s.PathRemoveDirectory(ctx, 3, "."), wasi.EACCES)
	assert.Equal(t, s.PathUnlinkFile(ctx, 3, "."), wasi.EACCES)
}

func TestUnlinkFile(t *testing.T) {
	ctx := context.Background()
	root := sandbox.NewMemFS()
	assert.OK(t, sandbox.WriteFile(ctx, root, "f", nil))
	sub, err := root.OpenDir(ctx, "sub", true)
	assert.OK(t, err)
	assert.OK(t, sandbox.WriteFile(ctx, sub, "g", nil))
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": root})

	assert.Equal(t, s.PathUnlinkFile(ctx, 3, "f"), wasi.ESUCCESS)
	assert.Equal(t, s.PathUnlinkFile(ctx, 3, "f"), wasi.ENOENT)
	assert.Equal(t, s.PathUnlinkFile(ctx, 3, "sub"), wasi.ENOTEMPTY)
}

func TestReadDirResumption(t *testing.T) {
	ctx := context.Background()
	root := sandbox.NewMemFS()
	for _, name := range []string{"a", "b", "c"} {
		assert.OK(t, sandbox.WriteFile(ctx, root, name, nil))
	}
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": root})

	// Each entry takes SizeOfDirent + 1 bytes; a 32 byte buffer fits exactly
	// one of them per call.
	entrySize := wasi.Size(wasi.SizeOfDirent + 1)
	buf := make([]byte, 32)

	for i, name := range []string{"a", "b", "c"} {
		n, errno := s.FDReadDir(ctx, 3, buf, wasi.DirCookie(i))
		assert.Equal(t, errno, wasi.ESUCCESS)
		assert.Equal(t, n, entrySize)
		assert.Equal(t, string(buf[wasi.SizeOfDirent:n]), name)

		header := parseDirent(buf)
		assert.Equal(t, header.Next, wasi.DirCookie(i+1))
		assert.Equal(t, header.INode, 0)
	}

	n, errno := s.FDReadDir(ctx, 3, buf, 3)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, n, 0)
}

func parseDirent(b []byte) wasi.DirEntry {
	return wasi.DirEntry{
		Next:  wasi.DirCookie(binary.LittleEndian.Uint64(b[0:])),
		INode: wasi.INode(binary.LittleEndian.Uint64(b[8:])),
		Type:  wasi.FileType(b[20]),
	}
}

func TestReadDirAllAtOnce(t *testing.T) {
	ctx := context.Background()
	root := sandbox.NewMemFS()
	for _, name := range []string{"a", "b", "c"} {
		assert.OK(t, sandbox.WriteFile(ctx, root, name, nil))
	}
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": root})

	buf := make([]byte, 4096)
	n, errno := s.FDReadDir(ctx, 3, buf, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, n, wasi.Size(3*(wasi.SizeOfDirent+1)))
}

func TestReadDirBufferTooSmall(t *testing.T) {
	ctx := context.Background()
	root := sandbox.NewMemFS()
	assert.OK(t, sandbox.WriteFile(ctx, root, "longfilename.txt", nil))
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": root})

	// A buffer too small for even one entry yields zero bytes and success;
	// the entry is held back and emitted once the buffer is large enough.
	buf := make([]byte, 16)
	n, errno := s.FDReadDir(ctx, 3, buf, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, n, 0)

	big := make([]byte, 4096)
	n, errno = s.FDReadDir(ctx, 3, big, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, n, wasi.Size(wasi.SizeOfDirent+len("longfilename.txt")))
}

func TestReadDirOnFile(t *testing.T) {
	ctx := context.Background()
	root := sandbox.NewMemFS()
	assert.OK(t, sandbox.WriteFile(ctx, root, "f", nil))
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": root})

	fd, errno := s.PathOpen(ctx, 3, 0, "f", 0, wasi.AllRights, wasi.AllRights, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)

	_, errno = s.FDReadDir(ctx, fd, make([]byte, 64), 0)
	assert.Equal(t, errno, wasi.ENOTDIR)
}

func TestLongestPrefixOpen(t *testing.T) {
	ctx := context.Background()
	outer := sandbox.NewMemFS()
	inner := sandbox.NewMemFS()
	assert.OK(t, sandbox.WriteFile(ctx, outer, "f", []byte("outer")))
	assert.OK(t, sandbox.WriteFile(ctx, inner, "f", []byte("inner")))

	s := newTestSystem(t, map[string]sandbox.DirHandle{
		"/a":   outer,
		"/a/b": inner,
	})

	fd, errno := s.PathOpen(ctx, 3, 0, "/a/b/f", 0, wasi.AllRights, wasi.AllRights, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, string(readAll(ctx, t, s, fd)), "inner")

	fd, errno = s.PathOpen(ctx, 3, 0, "/a/f", 0, wasi.AllRights, wasi.AllRights, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, string(readAll(ctx, t, s, fd)), "outer")
}

func TestStdinStdout(t *testing.T) {
	ctx := context.Background()
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": sandbox.NewMemFS()})
	s.Stdin = strings.NewReader("typed input")
	s.Stdout = stdout
	s.Stderr = stderr

	buf := make([]byte, 5)
	n, errno := s.FDRead(ctx, 0, []wasi.IOVec{buf})
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, n, 5)
	assert.Equal(t, string(buf), "typed")

	n, errno = s.FDWrite(ctx, 1, []wasi.IOVec{[]byte("to stdout")})
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, n, 9)
	assert.Equal(t, stdout.String(), "to stdout")

	_, errno = s.FDWrite(ctx, 2, []wasi.IOVec{[]byte("to stderr")})
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, stderr.String(), "to stderr")
}

func TestArgsAndEnviron(t *testing.T) {
	ctx := context.Background()
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": sandbox.NewMemFS()})
	s.Args = []string{"foo", "-bar", "--baz=value"}

	args, errno := s.ArgsGet(ctx)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.EqualAll(t, args, []string{"foo", "-bar", "--baz=value"})

	// The packed buffer layout is offsets [0, 4, 9] over
	// "foo\x00-bar\x00--baz=value\x00".
	offsets, packed := packStrings(args)
	assert.EqualAll(t, offsets, []int{0, 4, 9})
	assert.Equal(t, packed, "foo\x00-bar\x00--baz=value\x00")

	env, errno := s.EnvironGet(ctx)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.EqualAll(t, env, []string{"LANG=C"})
}

// packStrings mirrors the layout produced by the args_get and environ_get
// handlers: NUL-terminated strings concatenated back to back.
func packStrings(args []string) ([]int, string) {
	offsets := make([]int, 0, len(args))
	packed := new(strings.Builder)
	for _, arg := range args {
		offsets = append(offsets, packed.Len())
		packed.WriteString(arg)
		packed.WriteByte(0)
	}
	return offsets, packed.String()
}

func TestClocks(t *testing.T) {
	ctx := context.Background()
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": sandbox.NewMemFS()})

	res, errno := s.ClockResGet(ctx, wasi.Realtime)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, res, wasi.Timestamp(time.Millisecond))

	_, errno = s.ClockResGet(ctx, wasi.ProcessCPUTimeID)
	assert.Equal(t, errno, wasi.ENOSYS)

	t0, errno := s.ClockTimeGet(ctx, wasi.Monotonic, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)
	t1, errno := s.ClockTimeGet(ctx, wasi.Monotonic, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.True(t, t1 >= t0)

	wall, errno := s.ClockTimeGet(ctx, wasi.Realtime, 0)
	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.True(t, wall > 0)
}

func TestRandomGet(t *testing.T) {
	ctx := context.Background()
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": sandbox.NewMemFS()})

	b := make([]byte, 32)
	assert.Equal(t, s.RandomGet(ctx, b), wasi.ESUCCESS)
	zero := make([]byte, 32)
	assert.True(t, !bytes.Equal(b, zero))
}

func TestPollOneOffClock(t *testing.T) {
	ctx := context.Background()
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": sandbox.NewMemFS()})

	subs := []wasi.Subscription{
		wasi.MakeSubscriptionClock(42, wasi.SubscriptionClock{
			ID:      wasi.Monotonic,
			Timeout: wasi.Timestamp(50 * time.Millisecond),
		}),
	}
	events := make([]wasi.Event, 1)

	start := time.Now()
	n, errno := s.PollOneOff(ctx, subs, events)
	elapsed := time.Since(start)

	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, n, 1)
	assert.Equal(t, events[0].UserData, 42)
	assert.Equal(t, events[0].EventType, wasi.ClockEvent)
	assert.Equal(t, events[0].Errno, wasi.ESUCCESS)
	assert.True(t, elapsed >= 50*time.Millisecond)
}

func TestPollOneOffFDReadWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": sandbox.NewMemFS()})

	subs := []wasi.Subscription{
		wasi.MakeSubscriptionFDReadWrite(1, wasi.FDReadEvent, 0),
		wasi.MakeSubscriptionClock(2, wasi.SubscriptionClock{
			ID:      wasi.Monotonic,
			Timeout: wasi.Timestamp(time.Hour),
		}),
	}
	events := make([]wasi.Event, 2)

	// The fd subscription completes immediately with an error event, so the
	// clock must not be waited for.
	start := time.Now()
	n, errno := s.PollOneOff(ctx, subs, events)
	elapsed := time.Since(start)

	assert.Equal(t, errno, wasi.ESUCCESS)
	assert.Equal(t, n, 1)
	assert.Equal(t, events[0].UserData, 1)
	assert.Equal(t, events[0].Errno, wasi.ENOSYS)
	assert.True(t, elapsed < time.Second)
}

func TestPollOneOffNoSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": sandbox.NewMemFS()})

	_, errno := s.PollOneOff(ctx, nil, nil)
	assert.Equal(t, errno, wasi.EINVAL)
}

func TestPollOneOffCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": sandbox.NewMemFS()})

	subs := []wasi.Subscription{
		wasi.MakeSubscriptionClock(1, wasi.SubscriptionClock{
			ID:      wasi.Monotonic,
			Timeout: wasi.Timestamp(time.Hour),
		}),
	}
	events := make([]wasi.Event, 1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, errno := s.PollOneOff(ctx, subs, events)
	assert.Equal(t, errno, wasi.ECANCELED)
}

func TestProcExitHook(t *testing.T) {
	ctx := context.Background()
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": sandbox.NewMemFS()})

	var observed wasi.ExitCode
	s.Exit = func(ctx context.Context, code wasi.ExitCode) error {
		observed = code
		return nil
	}
	assert.Equal(t, s.ProcExit(ctx, 120), wasi.ESUCCESS)
	assert.Equal(t, observed, 120)
}

func TestTrace(t *testing.T) {
	ctx := context.Background()
	buf := new(bytes.Buffer)
	s := newTestSystem(t, map[string]sandbox.DirHandle{"/sandbox": sandbox.NewMemFS()})
	traced := Trace(buf, s)

	traced.FDClose(ctx, 42)
	assert.Equal(t, buf.String(), "fd_close(42) => EBADF\n")
}
