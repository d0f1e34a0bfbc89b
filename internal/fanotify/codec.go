// Package fanotify decodes the records the kernel hands to a fanotify
// listener and encodes the permission responses written back to it.
//
// The layouts mirror struct fanotify_event_metadata and struct
// fanotify_response from <linux/fanotify.h>. They are parsed field by field
// with explicit offsets instead of overlaying the raw buffer, so the package
// builds and can be tested on every platform.
package fanotify

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MetadataVersion is FANOTIFY_METADATA_VERSION.
	MetadataVersion = 3

	// MetadataSize is sizeof(struct fanotify_event_metadata).
	MetadataSize = 24

	// ResponseSize is sizeof(struct fanotify_response).
	ResponseSize = 8

	// NoFd is FAN_NOFD, reported on queue overflow events.
	NoFd = -1
)

// Event mask bits.
const (
	FAN_ACCESS         = 0x00000001
	FAN_MODIFY         = 0x00000002
	FAN_CLOSE_WRITE    = 0x00000008
	FAN_CLOSE_NOWRITE  = 0x00000010
	FAN_OPEN           = 0x00000020
	FAN_Q_OVERFLOW     = 0x00004000
	FAN_OPEN_PERM      = 0x00010000
	FAN_ACCESS_PERM    = 0x00020000
	FAN_OPEN_EXEC_PERM = 0x00040000
	FAN_ONDIR          = 0x40000000
	FAN_EVENT_ON_CHILD = 0x08000000

	PermissionMask = FAN_OPEN_PERM | FAN_ACCESS_PERM | FAN_OPEN_EXEC_PERM
)

// Response verdicts.
const (
	FAN_ALLOW uint32 = 0x01
	FAN_DENY  uint32 = 0x02
)

var (
	ErrShortBuffer     = errors.New("fanotify: buffer shorter than event metadata")
	ErrBadLength       = errors.New("fanotify: invalid event length")
	ErrVersionMismatch = errors.New("fanotify: metadata version mismatch")
)

// Field offsets inside struct fanotify_event_metadata.
const (
	offEventLen    = 0
	offVersion     = 4
	offReserved    = 5
	offMetadataLen = 6
	offMask        = 8
	offFd          = 16
	offPid         = 20
)

// EventMetadata is one decoded struct fanotify_event_metadata.
type EventMetadata struct {
	EventLen    uint32
	Version     uint8
	Reserved    uint8
	MetadataLen uint16
	Mask        uint64
	Fd          int32
	Pid         int32
}

// IsPermission reports whether the kernel waits for a verdict on this event.
func (m EventMetadata) IsPermission() bool {
	return m.Mask&PermissionMask != 0
}

// Event is the part of a record the monitor acts on.
func (m EventMetadata) Event() Event {
	return Event{Fd: m.Fd, Pid: m.Pid, Mask: m.Mask}
}

// Event is a single permission request: the descriptor the kernel opened on
// the target and the pid of the process blocked in open().
type Event struct {
	Fd   int32
	Pid  int32
	Mask uint64
}

// ParseMetadata decodes the record at the start of buf. It does not validate
// the version; DecodeEvents does.
func ParseMetadata(buf []byte) (EventMetadata, error) {
	if len(buf) < MetadataSize {
		return EventMetadata{}, fmt.Errorf("%w: %d bytes", ErrShortBuffer, len(buf))
	}

	ne := binary.NativeEndian
	return EventMetadata{
		EventLen:    ne.Uint32(buf[offEventLen:]),
		Version:     buf[offVersion],
		Reserved:    buf[offReserved],
		MetadataLen: ne.Uint16(buf[offMetadataLen:]),
		Mask:        ne.Uint64(buf[offMask:]),
		Fd:          int32(ne.Uint32(buf[offFd:])),
		Pid:         int32(ne.Uint32(buf[offPid:])),
	}, nil
}

// DecodeEvents splits a buffer returned by read(2) into its records.
//
// Records are returned in kernel order. When a record with an unknown
// version is found, parsing stops and the records decoded so far are
// returned together with ErrVersionMismatch: the remaining bytes cannot be
// interpreted safely. Length errors behave the same way.
func DecodeEvents(buf []byte) ([]EventMetadata, error) {
	var events []EventMetadata

	for offset := 0; offset < len(buf); {
		meta, err := ParseMetadata(buf[offset:])
		if err != nil {
			return events, err
		}

		if meta.Version != MetadataVersion {
			return events, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, meta.Version, MetadataVersion)
		}

		remaining := len(buf) - offset
		switch {
		case meta.EventLen < MetadataSize:
			return events, fmt.Errorf("%w: event_len %d below metadata size", ErrBadLength, meta.EventLen)
		case uint32(meta.MetadataLen) < MetadataSize:
			return events, fmt.Errorf("%w: metadata_len %d below metadata size", ErrBadLength, meta.MetadataLen)
		case meta.EventLen < uint32(meta.MetadataLen):
			return events, fmt.Errorf("%w: event_len %d below metadata_len %d", ErrBadLength, meta.EventLen, meta.MetadataLen)
		case int(meta.EventLen) > remaining:
			return events, fmt.Errorf("%w: event_len %d exceeds remaining %d bytes", ErrBadLength, meta.EventLen, remaining)
		}

		events = append(events, meta)
		offset += int(meta.EventLen)
	}

	return events, nil
}

// EncodeMetadata produces the wire form of m. Used to build kernel buffers
// in tests and fakes.
func EncodeMetadata(m EventMetadata) []byte {
	buf := make([]byte, MetadataSize)
	ne := binary.NativeEndian
	ne.PutUint32(buf[offEventLen:], m.EventLen)
	buf[offVersion] = m.Version
	buf[offReserved] = m.Reserved
	ne.PutUint16(buf[offMetadataLen:], m.MetadataLen)
	ne.PutUint64(buf[offMask:], m.Mask)
	ne.PutUint32(buf[offFd:], uint32(m.Fd))
	ne.PutUint32(buf[offPid:], uint32(m.Pid))
	return buf
}

// EncodeResponse builds a struct fanotify_response for fd.
func EncodeResponse(fd int32, allow bool) []byte {
	verdict := FAN_DENY
	if allow {
		verdict = FAN_ALLOW
	}

	buf := make([]byte, ResponseSize)
	binary.NativeEndian.PutUint32(buf[0:], uint32(fd))
	binary.NativeEndian.PutUint32(buf[4:], verdict)
	return buf
}

// DecodeResponse is the inverse of EncodeResponse.
func DecodeResponse(buf []byte) (fd int32, verdict uint32, err error) {
	if len(buf) < ResponseSize {
		return 0, 0, fmt.Errorf("%w: %d bytes", ErrShortBuffer, len(buf))
	}
	return int32(binary.NativeEndian.Uint32(buf[0:])), binary.NativeEndian.Uint32(buf[4:]), nil
}
