package monitor

import "errors"

var (
	// ErrUnsupported is returned by Init where the kernel offers no
	// permission-event interface.
	ErrUnsupported = errors.New("access monitoring is not supported on this platform")

	errWoken = errors.New("kernel read interrupted by wake")
)

// kernel is the notification handle used by the monitor. Read blocks until
// events are available or Wake is called.
type kernel interface {
	Mark(path string, isDir bool) error
	Unmark(path string, isDir bool) error
	Read(buf []byte) (int, error)
	Respond(fd int32, allow bool) error
	ResolvePath(fd int32) (string, error)
	CloseFd(fd int32) error
	Wake() error
	Close() error
}
