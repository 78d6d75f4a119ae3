package wasi

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tetratelabs/wazero/api"
)

// The types in this file are the C ABI representation of WASI structures in
// the guest's linear memory: little-endian, natural alignment, padded the way
// a C compiler would pad them. Each implements the wazergo types.Object
// interface so it can be marshalled through Pointer[T] and List[T] function
// parameters; the offsets below are fixed by the WASI preview 1 witx
// definitions and are checked against the layout algorithm in abi_test.go.

const (
	SizeOfPreStat      = 8
	SizeOfIOVec        = 8
	SizeOfFDStat       = 24
	SizeOfDirent       = 24
	SizeOfFileStat     = 64
	SizeOfSubscription = 48
	SizeOfEvent        = 32
)

// PreStat describes a pre-opened capability as returned by fd_prestat_get.
type PreStat struct {
	Type       PreOpenType
	PreStatDir PreStatDir
}

// PreStatDir is the contents of a PreStat when the capability is a
// pre-opened directory.
type PreStatDir struct {
	NameLength Size
}

func (p PreStat) ObjectSize() int { return SizeOfPreStat }

func (p PreStat) LoadObject(_ api.Memory, b []byte) PreStat {
	return PreStat{
		Type:       PreOpenType(b[0]),
		PreStatDir: PreStatDir{NameLength: Size(binary.LittleEndian.Uint32(b[4:]))},
	}
}

func (p PreStat) StoreObject(_ api.Memory, b []byte) {
	memclr(b[:SizeOfPreStat])
	b[0] = byte(p.Type)
	binary.LittleEndian.PutUint32(b[4:], uint32(p.PreStatDir.NameLength))
}

func (p PreStat) FormatObject(w io.Writer, memory api.Memory, b []byte) {
	fmt.Fprintf(w, "%+v", p.LoadObject(memory, b))
}

// IOVec is a scatter/gather buffer in guest memory. Loading an IOVec resolves
// the {buf_ptr, buf_len} pair against the instance's current linear memory,
// so the slice aliases guest memory and must not be retained across calls.
type IOVec []byte

func (v IOVec) ObjectSize() int { return SizeOfIOVec }

func (v IOVec) LoadObject(memory api.Memory, b []byte) IOVec {
	offset := binary.LittleEndian.Uint32(b[0:])
	length := binary.LittleEndian.Uint32(b[4:])
	data, ok := memory.Read(offset, length)
	if !ok {
		return nil
	}
	return data
}

func (v IOVec) StoreObject(api.Memory, []byte) {
	panic("BUG: i/o vectors cannot be stored back to guest memory")
}

func (v IOVec) FormatObject(w io.Writer, memory api.Memory, b []byte) {
	fmt.Fprintf(w, "iovec{len:%d}", binary.LittleEndian.Uint32(b[4:]))
}

// FDStat describes the state of an open file descriptor.
type FDStat struct {
	FileType         FileType
	Flags            FDFlags
	RightsBase       Rights
	RightsInheriting Rights
}

func (s FDStat) ObjectSize() int { return SizeOfFDStat }

func (s FDStat) LoadObject(_ api.Memory, b []byte) FDStat {
	return FDStat{
		FileType:         FileType(b[0]),
		Flags:            FDFlags(binary.LittleEndian.Uint16(b[2:])),
		RightsBase:       Rights(binary.LittleEndian.Uint64(b[8:])),
		RightsInheriting: Rights(binary.LittleEndian.Uint64(b[16:])),
	}
}

func (s FDStat) StoreObject(_ api.Memory, b []byte) {
	memclr(b[:SizeOfFDStat])
	b[0] = byte(s.FileType)
	binary.LittleEndian.PutUint16(b[2:], uint16(s.Flags))
	binary.LittleEndian.PutUint64(b[8:], uint64(s.RightsBase))
	binary.LittleEndian.PutUint64(b[16:], uint64(s.RightsInheriting))
}

func (s FDStat) FormatObject(w io.Writer, memory api.Memory, b []byte) {
	fmt.Fprintf(w, "%+v", s.LoadObject(memory, b))
}

// FileStat is the result of the filestat queries.
//
// Device and inode numbers are always zero: the backing stores have no
// stable serial numbers, and since hard links cannot be created the lack of
// inode identity is harmless. Guests must not rely on ino to disambiguate
// files.
type FileStat struct {
	Device     Device
	INode      INode
	FileType   FileType
	NLink      LinkCount
	Size       FileSize
	AccessTime Timestamp
	ModifyTime Timestamp
	ChangeTime Timestamp
}

func (s FileStat) ObjectSize() int { return SizeOfFileStat }

func (s FileStat) LoadObject(_ api.Memory, b []byte) FileStat {
	return FileStat{
		Device:     Device(binary.LittleEndian.Uint64(b[0:])),
		INode:      INode(binary.LittleEndian.Uint64(b[8:])),
		FileType:   FileType(b[16]),
		NLink:      LinkCount(binary.LittleEndian.Uint64(b[24:])),
		Size:       FileSize(binary.LittleEndian.Uint64(b[32:])),
		AccessTime: Timestamp(binary.LittleEndian.Uint64(b[40:])),
		ModifyTime: Timestamp(binary.LittleEndian.Uint64(b[48:])),
		ChangeTime: Timestamp(binary.LittleEndian.Uint64(b[56:])),
	}
}

func (s FileStat) StoreObject(_ api.Memory, b []byte) {
	memclr(b[:SizeOfFileStat])
	binary.LittleEndian.PutUint64(b[0:], uint64(s.Device))
	binary.LittleEndian.PutUint64(b[8:], uint64(s.INode))
	b[16] = byte(s.FileType)
	binary.LittleEndian.PutUint64(b[24:], uint64(s.NLink))
	binary.LittleEndian.PutUint64(b[32:], uint64(s.Size))
	binary.LittleEndian.PutUint64(b[40:], uint64(s.AccessTime))
	binary.LittleEndian.PutUint64(b[48:], uint64(s.ModifyTime))
	binary.LittleEndian.PutUint64(b[56:], uint64(s.ChangeTime))
}

func (s FileStat) FormatObject(w io.Writer, memory api.Memory, b []byte) {
	fmt.Fprintf(w, "%+v", s.LoadObject(memory, b))
}

// DirEntry is a decoded directory entry. The entry header is packed to guest
// memory by fd_readdir as {next, ino, name_len, type} followed by the name
// bytes; SizeOfDirent is the size of that header.
type DirEntry struct {
	Next  DirCookie
	INode INode
	Type  FileType
	Name  string
}

// StoreDirent packs the 24-byte dirent header into b.
func (d DirEntry) StoreDirent(b []byte) {
	memclr(b[:SizeOfDirent])
	binary.LittleEndian.PutUint64(b[0:], uint64(d.Next))
	binary.LittleEndian.PutUint64(b[8:], uint64(d.INode))
	binary.LittleEndian.PutUint32(b[16:], uint32(len(d.Name)))
	b[20] = byte(d.Type)
}

// Subscription is the tagged union submitted to poll_oneoff. EventType is the
// discriminant: Clock is valid for ClockEvent, FDReadWrite for FDReadEvent
// and FDWriteEvent.
type Subscription struct {
	UserData    UserData
	EventType   EventType
	Clock       SubscriptionClock
	FDReadWrite SubscriptionFDReadWrite
}

// SubscriptionClock is the clock variant of a subscription.
type SubscriptionClock struct {
	ID        ClockID
	Timeout   Timestamp
	Precision Timestamp
	Flags     SubscriptionClockFlags
}

// SubscriptionFDReadWrite is the fd_read/fd_write variant of a subscription.
type SubscriptionFDReadWrite struct {
	FD FD
}

// MakeSubscriptionClock constructs a clock subscription.
func MakeSubscriptionClock(userData UserData, clock SubscriptionClock) Subscription {
	return Subscription{UserData: userData, EventType: ClockEvent, Clock: clock}
}

// MakeSubscriptionFDReadWrite constructs an fd_read or fd_write subscription.
func MakeSubscriptionFDReadWrite(userData UserData, eventType EventType, fd FD) Subscription {
	return Subscription{UserData: userData, EventType: eventType, FDReadWrite: SubscriptionFDReadWrite{FD: fd}}
}

func (s Subscription) ObjectSize() int { return SizeOfSubscription }

func (s Subscription) LoadObject(_ api.Memory, b []byte) Subscription {
	sub := Subscription{
		UserData:  UserData(binary.LittleEndian.Uint64(b[0:])),
		EventType: EventType(b[8]),
	}
	switch sub.EventType {
	case FDReadEvent, FDWriteEvent:
		sub.FDReadWrite = SubscriptionFDReadWrite{
			FD: FD(binary.LittleEndian.Uint32(b[16:])),
		}
	default:
		sub.Clock = SubscriptionClock{
			ID:        ClockID(binary.LittleEndian.Uint32(b[16:])),
			Timeout:   Timestamp(binary.LittleEndian.Uint64(b[24:])),
			Precision: Timestamp(binary.LittleEndian.Uint64(b[32:])),
			Flags:     SubscriptionClockFlags(binary.LittleEndian.Uint16(b[40:])),
		}
	}
	return sub
}

func (s Subscription) StoreObject(_ api.Memory, b []byte) {
	memclr(b[:SizeOfSubscription])
	binary.LittleEndian.PutUint64(b[0:], uint64(s.UserData))
	b[8] = byte(s.EventType)
	switch s.EventType {
	case FDReadEvent, FDWriteEvent:
		binary.LittleEndian.PutUint32(b[16:], uint32(s.FDReadWrite.FD))
	default:
		binary.LittleEndian.PutUint32(b[16:], uint32(s.Clock.ID))
		binary.LittleEndian.PutUint64(b[24:], uint64(s.Clock.Timeout))
		binary.LittleEndian.PutUint64(b[32:], uint64(s.Clock.Precision))
		binary.LittleEndian.PutUint16(b[40:], uint16(s.Clock.Flags))
	}
}

func (s Subscription) FormatObject(w io.Writer, memory api.Memory, b []byte) {
	sub := s.LoadObject(memory, b)
	switch sub.EventType {
	case FDReadEvent, FDWriteEvent:
		fmt.Fprintf(w, "subscription{userdata:%#x,%s,fd:%d}", uint64(sub.UserData), sub.EventType, sub.FDReadWrite.FD)
	default:
		fmt.Fprintf(w, "subscription{userdata:%#x,clock,timeout:%s}", uint64(sub.UserData), sub.Clock.Timeout.Duration())
	}
}

// Event is the tagged union produced by poll_oneoff.
type Event struct {
	UserData    UserData
	Errno       Errno
	EventType   EventType
	FDReadWrite EventFDReadWrite
}

// EventFDReadWrite is the payload of fd_read and fd_write events.
type EventFDReadWrite struct {
	NBytes FileSize
	Flags  EventFDReadWriteFlags
}

func (e Event) ObjectSize() int { return SizeOfEvent }

func (e Event) LoadObject(_ api.Memory, b []byte) Event {
	return Event{
		UserData:  UserData(binary.LittleEndian.Uint64(b[0:])),
		Errno:     Errno(binary.LittleEndian.Uint16(b[8:])),
		EventType: EventType(b[10]),
		FDReadWrite: EventFDReadWrite{
			NBytes: FileSize(binary.LittleEndian.Uint64(b[16:])),
			Flags:  EventFDReadWriteFlags(binary.LittleEndian.Uint16(b[24:])),
		},
	}
}

func (e Event) StoreObject(_ api.Memory, b []byte) {
	memclr(b[:SizeOfEvent])
	binary.LittleEndian.PutUint64(b[0:], uint64(e.UserData))
	binary.LittleEndian.PutUint16(b[8:], uint16(e.Errno))
	b[10] = byte(e.EventType)
	binary.LittleEndian.PutUint64(b[16:], uint64(e.FDReadWrite.NBytes))
	binary.LittleEndian.PutUint16(b[24:], uint16(e.FDReadWrite.Flags))
}

func (e Event) FormatObject(w io.Writer, memory api.Memory, b []byte) {
	fmt.Fprintf(w, "%+v", e.LoadObject(memory, b))
}

func memclr(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
