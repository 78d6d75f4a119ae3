// Package wasi contains the type definitions of the WASI preview 1 system
// call surface, along with their binary (C ABI) representation in the guest's
// linear memory.
//
// The package intentionally stays free of any host policy: it knows how WASI
// values are laid out and what they mean, not how they are implemented. The
// System interface declared in system.go is the contract between the ABI
// layer (see internal/wasip1) and implementations of the system calls.
package wasi

import (
	"time"
)

// Size is the type used to represent lengths and byte counts exchanged with
// the guest.
type Size uint32

// FD is a file descriptor handle in the guest's descriptor space.
//
// Descriptors 0, 1 and 2 are reserved for the standard streams. Descriptors
// starting at 3 are assigned to pre-opened directories, then to files and
// directories opened by the guest.
type FD int32

// FileSize is a non-negative file size or length of a region within a file.
type FileSize uint64

// FileDelta is a relative offset within a file.
type FileDelta int64

// Timestamp is a time value in nanoseconds.
type Timestamp uint64

// Duration converts the timestamp to a time.Duration value.
func (t Timestamp) Duration() time.Duration { return time.Duration(t) }

// UserData is an opaque 64-bit value attached by the guest to a subscription
// and echoed back verbatim on the matching event.
type UserData uint64

// DirCookie is the continuation token of a directory enumeration; it holds
// the position of the next entry to be emitted by fd_readdir.
type DirCookie uint64

// ExitCode is the value passed by the guest to proc_exit.
type ExitCode uint32

// INode is a file serial number.
type INode uint64

// Device is an identifier of a device containing a file system.
type Device uint64

// LinkCount is a number of hard links to a file.
type LinkCount uint64

// ClockID identifies a clock.
type ClockID uint32

const (
	// Realtime is the clock measuring real (wall-clock) time.
	Realtime ClockID = iota
	// Monotonic is the store-wide monotonic clock.
	Monotonic
	// ProcessCPUTimeID is the CPU-time clock associated with the process.
	ProcessCPUTimeID
	// ThreadCPUTimeID is the CPU-time clock associated with the thread.
	ThreadCPUTimeID
)

// Whence declares the base from which a seek offset is applied.
type Whence uint8

const (
	SeekStart Whence = iota
	SeekCurrent
	SeekEnd
)

// FileType is the type of a file descriptor or file.
type FileType uint8

const (
	UnknownType FileType = iota
	BlockDeviceType
	CharacterDeviceType
	DirectoryType
	RegularFileType
	SocketDGramType
	SocketStreamType
	SymbolicLinkType
)

func (f FileType) String() string {
	switch f {
	case BlockDeviceType:
		return "block_device"
	case CharacterDeviceType:
		return "character_device"
	case DirectoryType:
		return "directory"
	case RegularFileType:
		return "regular_file"
	case SocketDGramType:
		return "socket_dgram"
	case SocketStreamType:
		return "socket_stream"
	case SymbolicLinkType:
		return "symbolic_link"
	default:
		return "unknown"
	}
}

// FDFlags are the flags associated with an open file descriptor.
type FDFlags uint16

const (
	Append FDFlags = 1 << iota
	DSync
	NonBlock
	RSync
	Sync
)

func (flags FDFlags) Has(f FDFlags) bool { return (flags & f) == f }

// OpenFlags are the flags passed to path_open determining how a file is
// opened or created.
type OpenFlags uint16

const (
	OpenCreate OpenFlags = 1 << iota
	OpenDirectory
	OpenExclusive
	OpenTruncate
)

func (flags OpenFlags) Has(f OpenFlags) bool { return (flags & f) == f }

// LookupFlags alter the way paths are resolved. The only flag defined by
// WASI preview 1 is SymlinkFollow; symbolic links do not exist in this
// runtime so the flag has no effect.
type LookupFlags uint32

const (
	SymlinkFollow LookupFlags = 1 << iota
)

func (flags LookupFlags) Has(f LookupFlags) bool { return (flags & f) == f }

// Rights describe the set of operations permitted on a file descriptor.
//
// The runtime does not restrict operations by rights; fd_fdstat_get reports
// the full set on every descriptor, minus PathSymlinkRight on the inheriting
// set since symbolic links cannot be created.
type Rights uint64

const (
	FDDataSyncRight Rights = 1 << iota
	FDReadRight
	FDSeekRight
	FDStatSetFlagsRight
	FDSyncRight
	FDTellRight
	FDWriteRight
	FDAdviseRight
	FDAllocateRight
	PathCreateDirectoryRight
	PathCreateFileRight
	PathLinkSourceRight
	PathLinkTargetRight
	PathOpenRight
	FDReadDirRight
	PathReadLinkRight
	PathRenameSourceRight
	PathRenameTargetRight
	PathFileStatGetRight
	PathFileStatSetSizeRight
	PathFileStatSetTimesRight
	FDFileStatGetRight
	FDFileStatSetSizeRight
	FDFileStatSetTimesRight
	PathSymlinkRight
	PathRemoveDirectoryRight
	PathUnlinkFileRight
	PollFDReadWriteRight
	SockShutdownRight
	SockAcceptRight

	// AllRights is the set of all defined rights.
	AllRights Rights = (1 << 30) - 1
)

func (rights Rights) Has(r Rights) bool { return (rights & r) == r }

// EventType is the discriminant of the subscription and event tagged unions.
type EventType uint8

const (
	ClockEvent EventType = iota
	FDReadEvent
	FDWriteEvent
)

func (e EventType) String() string {
	switch e {
	case ClockEvent:
		return "clock"
	case FDReadEvent:
		return "fd_read"
	case FDWriteEvent:
		return "fd_write"
	default:
		return "unknown"
	}
}

// SubscriptionClockFlags are the flags of a clock subscription.
type SubscriptionClockFlags uint16

const (
	// Abstime marks the subscription timeout as an absolute time point on the
	// subscribed clock rather than a duration relative to now.
	Abstime SubscriptionClockFlags = 1 << iota
)

func (flags SubscriptionClockFlags) Has(f SubscriptionClockFlags) bool {
	return (flags & f) == f
}

// EventFDReadWriteFlags are the flags of an fd_read or fd_write event.
type EventFDReadWriteFlags uint16

const (
	Hangup EventFDReadWriteFlags = 1 << iota
)

// PreOpenType is the type of a pre-opened capability.
type PreOpenType uint8

const (
	PreOpenDir PreOpenType = iota
)
