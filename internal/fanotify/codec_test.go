package fanotify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(fd, pid int32, mask uint64) EventMetadata {
	return EventMetadata{
		EventLen:    MetadataSize,
		Version:     MetadataVersion,
		MetadataLen: MetadataSize,
		Mask:        mask,
		Fd:          fd,
		Pid:         pid,
	}
}

func TestMetadataLayout(t *testing.T) {
	m := record(7, 4242, FAN_OPEN_PERM)
	buf := EncodeMetadata(m)
	require.Len(t, buf, MetadataSize)

	got, err := ParseMetadata(buf)
	require.NoError(t, err)
	assert.Equal(t, m, got)
	assert.True(t, got.IsPermission())
	assert.Equal(t, Event{Fd: 7, Pid: 4242, Mask: FAN_OPEN_PERM}, got.Event())
}

func TestDecodeEventsSplitsRecords(t *testing.T) {
	var buf []byte
	buf = append(buf, EncodeMetadata(record(3, 100, FAN_OPEN_PERM))...)

	// A record carrying trailing info bytes after the metadata.
	withInfo := record(4, 200, FAN_ACCESS_PERM)
	withInfo.EventLen = MetadataSize + 8
	buf = append(buf, EncodeMetadata(withInfo)...)
	buf = append(buf, make([]byte, 8)...)

	buf = append(buf, EncodeMetadata(record(5, 300, FAN_OPEN))...)

	events, err := DecodeEvents(buf)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int32(3), events[0].Fd)
	assert.Equal(t, int32(4), events[1].Fd)
	assert.Equal(t, int32(200), events[1].Pid)
	assert.Equal(t, int32(5), events[2].Fd)
	assert.False(t, events[2].IsPermission())
}

func TestDecodeEventsStopsOnVersionMismatch(t *testing.T) {
	bad := record(9, 1, FAN_OPEN_PERM)
	bad.Version = MetadataVersion + 1

	var buf []byte
	buf = append(buf, EncodeMetadata(record(8, 1, FAN_OPEN_PERM))...)
	buf = append(buf, EncodeMetadata(bad)...)
	buf = append(buf, EncodeMetadata(record(10, 1, FAN_OPEN_PERM))...)

	events, err := DecodeEvents(buf)
	assert.ErrorIs(t, err, ErrVersionMismatch)
	require.Len(t, events, 1)
	assert.Equal(t, int32(8), events[0].Fd)
}

func TestDecodeEventsRejectsMalformedLengths(t *testing.T) {
	tests := []struct {
		name    string
		buf     func() []byte
		wantErr error
	}{
		{
			name:    "short buffer",
			buf:     func() []byte { return EncodeMetadata(record(1, 1, FAN_OPEN_PERM))[:10] },
			wantErr: ErrShortBuffer,
		},
		{
			name: "event_len below metadata size",
			buf: func() []byte {
				m := record(1, 1, FAN_OPEN_PERM)
				m.EventLen = 8
				return EncodeMetadata(m)
			},
			wantErr: ErrBadLength,
		},
		{
			name: "event_len beyond buffer",
			buf: func() []byte {
				m := record(1, 1, FAN_OPEN_PERM)
				m.EventLen = 64
				return EncodeMetadata(m)
			},
			wantErr: ErrBadLength,
		},
		{
			name: "metadata_len larger than event_len",
			buf: func() []byte {
				m := record(1, 1, FAN_OPEN_PERM)
				m.MetadataLen = 32
				return EncodeMetadata(m)
			},
			wantErr: ErrBadLength,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := DecodeEvents(tt.buf())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, events)
		})
	}
}

func TestEncodeResponse(t *testing.T) {
	fd, verdict, err := DecodeResponse(EncodeResponse(12, true))
	require.NoError(t, err)
	assert.Equal(t, int32(12), fd)
	assert.Equal(t, FAN_ALLOW, verdict)

	fd, verdict, err = DecodeResponse(EncodeResponse(13, false))
	require.NoError(t, err)
	assert.Equal(t, int32(13), fd)
	assert.Equal(t, FAN_DENY, verdict)

	_, _, err = DecodeResponse([]byte{1, 2})
	assert.ErrorIs(t, err, ErrShortBuffer)
}
