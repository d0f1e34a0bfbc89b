package protocol

import "errors"

// Error classes carried back to clients as response text. They never cross
// the socket as Go errors.
var (
	ErrValidation          = errors.New("validation error")
	ErrPrivilegedOperation = errors.New("privileged operation failed")
	ErrProtocol            = errors.New("protocol error")
	ErrTimeout             = errors.New("timeout")
	ErrFatalStartup        = errors.New("fatal startup error")
)
