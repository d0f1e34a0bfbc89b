// Package wire implements the framing shared by the control and decision
// channels: an unsigned varint payload length followed by one CBOR value.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// DefaultMaxFrameSize bounds a single message on either channel.
const DefaultMaxFrameSize = 1 << 20

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrEmptyFrame    = errors.New("empty frame")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		MaxNestedLevels:  16,
		MaxArrayElements: 65536,
		MaxMapPairs:      1024,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes v with the deterministic encoding used on the wire.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data with the same limits applied to framed messages.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// WriteFrame encodes v and writes it as one length-prefixed frame.
func WriteFrame(w io.Writer, v any) error {
	payload, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	buf := make([]byte, 0, binary.MaxVarintLen64+len(payload))
	buf = binary.AppendUvarint(buf, uint64(len(payload)))
	buf = append(buf, payload...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r and decodes it into v. Frames longer than
// maxSize are rejected before the payload is read.
func ReadFrame(r io.Reader, v any, maxSize int) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r}
	}

	length, err := binary.ReadUvarint(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read frame length: %w", err)
	}
	if length == 0 {
		return ErrEmptyFrame
	}
	if length > uint64(maxSize) {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}

	if err := decMode.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

// byteReader reads single bytes without buffering ahead, so that nothing past
// the length prefix is consumed from a connection.
type byteReader struct {
	r   io.Reader
	one [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(b.r, b.one[:]); err != nil {
		return 0, err
	}
	return b.one[0], nil
}
