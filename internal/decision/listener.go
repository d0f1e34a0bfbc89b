package decision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fadcrypt/fadcrypt/internal/constants"
	"github.com/fadcrypt/fadcrypt/internal/protocol"
	"github.com/fadcrypt/fadcrypt/internal/wire"
)

type Listener struct {
	ln           *net.UnixListener
	timeout      time.Duration
	maxFrameSize int
}

// Listen binds the decision socket at path, replacing a stale socket file.
// Every question asked through the returned listener is bounded by timeout.
func Listen(path string, timeout time.Duration, maxFrameSize int) (*Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	ln.SetUnlinkOnClose(true)

	if err := os.Chmod(path, constants.SocketMode); err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to chmod %s: %w", path, err)
	}

	if timeout <= 0 {
		timeout = constants.DefaultDecisionTimeout
	}
	return &Listener{ln: ln, timeout: timeout, maxFrameSize: maxFrameSize}, nil
}

// Ask asks the connected application whether pid may open path. Any failure
// to obtain a well-formed reply within the timeout yields false together
// with the reason.
func (l *Listener) Ask(ctx context.Context, path string, pid int32) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	deadline, _ := ctx.Deadline()
	stop := context.AfterFunc(ctx, func() {
		l.ln.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	req := Request{Type: RequestType, Path: path, Pid: pid}

	for {
		if ctx.Err() != nil {
			return false, fmt.Errorf("%w: %w", ErrNoClient, protocol.ErrTimeout)
		}
		if err := l.ln.SetDeadline(deadline); err != nil {
			return false, fmt.Errorf("%w: %v", ErrClosed, err)
		}

		conn, err := l.ln.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return false, fmt.Errorf("%w: %w", ErrNoClient, protocol.ErrTimeout)
			}
			if errors.Is(err, net.ErrClosed) {
				return false, ErrClosed
			}
			return false, fmt.Errorf("%w: %v", ErrNoClient, err)
		}

		allowed, retry, err := l.exchange(ctx, conn, deadline, req)
		if retry {
			continue
		}
		return allowed, err
	}
}

// exchange runs one request/reply on conn. retry is set when the peer had
// already gone away before the request could be delivered.
func (l *Listener) exchange(ctx context.Context, conn *net.UnixConn, deadline time.Time, req Request) (allowed bool, retry bool, err error) {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := conn.SetDeadline(deadline); err != nil {
		return false, true, nil
	}

	if err := wire.WriteFrame(conn, req); err != nil {
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
			return false, true, nil
		}
		return false, false, fmt.Errorf("failed to send decision request: %w", err)
	}

	var reply Reply
	if err := wire.ReadFrame(conn, &reply, l.maxFrameSize); err != nil {
		if ctx.Err() != nil {
			return false, false, fmt.Errorf("no decision reply: %w", protocol.ErrTimeout)
		}
		return false, false, fmt.Errorf("failed to read decision reply: %w", err)
	}
	return reply.Allowed, false, nil
}

func (l *Listener) Close() error {
	return l.ln.Close()
}
