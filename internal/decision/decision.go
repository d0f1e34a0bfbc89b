// Package decision carries allow/deny questions from the access monitor to
// the unprivileged application that answers them.
//
// The monitor owns a listening unix socket. The application keeps one
// connection open at a time; the monitor accepts it when an access needs a
// verdict, writes a Request and reads a Reply. Each connection carries
// exactly one exchange.
package decision

import "errors"

const RequestType = "permission_request"

var (
	ErrNoClient = errors.New("no authorization client connected")
	ErrClosed   = errors.New("decision listener closed")
)

type Request struct {
	Type string `cbor:"type"`
	Path string `cbor:"path"`
	Pid  int32  `cbor:"pid"`
}

type Reply struct {
	Allowed bool `cbor:"allowed"`
}
