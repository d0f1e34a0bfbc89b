// Package protocol defines the messages exchanged on the control channel
// between unprivileged clients and the privileged daemon.
package protocol

import (
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

type Command string

const (
	CmdPing              Command = "ping"
	CmdSetAttribute      Command = "set_attribute"
	CmdSetPermissionBits Command = "set_permission_bits"
	CmdWatch             Command = "watch"
	CmdUnwatch           Command = "unwatch"
	CmdStartMonitor      Command = "start_monitor"
	CmdStopMonitor       Command = "stop_monitor"
)

// Wire names used by older clients.
var commandAliases = map[Command]Command{
	"chattr":           CmdSetAttribute,
	"chmod":            CmdSetPermissionBits,
	"fanotify_watch":   CmdWatch,
	"fanotify_unwatch": CmdUnwatch,
	"fanotify_start":   CmdStartMonitor,
	"fanotify_stop":    CmdStopMonitor,
}

// Canonical resolves aliases. Unknown commands are returned unchanged.
func (c Command) Canonical() Command {
	if canonical, ok := commandAliases[c]; ok {
		return canonical
	}
	return c
}

func (c Command) Known() bool {
	switch c.Canonical() {
	case CmdPing, CmdSetAttribute, CmdSetPermissionBits, CmdWatch, CmdUnwatch, CmdStartMonitor, CmdStopMonitor:
		return true
	}
	return false
}

// NeedsFiles reports whether the command operates on a list of paths.
func (c Command) NeedsFiles() bool {
	switch c.Canonical() {
	case CmdSetAttribute, CmdSetPermissionBits, CmdWatch, CmdUnwatch:
		return true
	}
	return false
}

// Mode is either a text token ("set", "+i", "600", "u+rw") or an integer
// holding raw permission bits.
type Mode struct {
	text  string
	num   int64
	isNum bool
	set   bool
}

func StringMode(s string) Mode { return Mode{text: s, set: true} }

func IntMode(n int64) Mode { return Mode{num: n, isNum: true, set: true} }

func (m Mode) IsSet() bool     { return m.set }
func (m Mode) IsNumeric() bool { return m.isNum }
func (m Mode) Int() int64      { return m.num }

func (m Mode) String() string {
	switch {
	case !m.set:
		return ""
	case m.isNum:
		return "0" + strconv.FormatInt(m.num, 8)
	default:
		return m.text
	}
}

func (m Mode) MarshalCBOR() ([]byte, error) {
	switch {
	case !m.set:
		return cbor.Marshal(nil)
	case m.isNum:
		return cbor.Marshal(m.num)
	default:
		return cbor.Marshal(m.text)
	}
}

func (m *Mode) UnmarshalCBOR(data []byte) error {
	var v any
	if err := cbor.Unmarshal(data, &v); err != nil {
		return err
	}

	switch val := v.(type) {
	case nil:
		*m = Mode{}
	case string:
		*m = StringMode(val)
	case uint64:
		if val > 1<<31 {
			return fmt.Errorf("mode %d out of range", val)
		}
		*m = IntMode(int64(val))
	case int64:
		*m = IntMode(val)
	default:
		return fmt.Errorf("mode must be a string or an integer, got %T", v)
	}
	return nil
}

// Request is the single message a client sends per connection.
type Request struct {
	Command Command  `cbor:"command" validate:"required,max=64"`
	Files   []string `cbor:"files,omitempty" validate:"max=10000,dive,required,max=4096"`
	Mode    Mode     `cbor:"mode"`
}

// ItemResult is the outcome for one path of a batch.
type ItemResult struct {
	Path    string `cbor:"path"`
	Success bool   `cbor:"success"`
	Error   string `cbor:"error,omitempty"`
}

// Response is the single message the daemon answers with.
type Response struct {
	Success        bool         `cbor:"success"`
	Message        string       `cbor:"message,omitempty"`
	Error          string       `cbor:"error,omitempty"`
	FilesProcessed int          `cbor:"files_processed"`
	Errors         []string     `cbor:"errors"`
	Results        []ItemResult `cbor:"results,omitempty"`
	State          string       `cbor:"state,omitempty"`
	Version        string       `cbor:"version,omitempty"`
}

// Failure builds a response for a request rejected as a whole.
func Failure(format string, args ...any) Response {
	return Response{Success: false, Error: fmt.Sprintf(format, args...)}
}
