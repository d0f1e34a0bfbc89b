package decision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fadcrypt/fadcrypt/internal/syslog"
	"github.com/fadcrypt/fadcrypt/internal/wire"
	"github.com/fsnotify/fsnotify"
)

// Authorizer decides a single access. It runs in the unprivileged
// application, typically by asking the user.
type Authorizer interface {
	Authorize(ctx context.Context, path string, pid int32) bool
}

type AuthorizerFunc func(ctx context.Context, path string, pid int32) bool

func (f AuthorizerFunc) Authorize(ctx context.Context, path string, pid int32) bool {
	return f(ctx, path, pid)
}

// Client answers decision requests for as long as its context lives.
type Client struct {
	SocketPath    string
	MaxFrameSize  int
	RetryInterval time.Duration
}

func (c *Client) retryInterval() time.Duration {
	if c.RetryInterval > 0 {
		return c.RetryInterval
	}
	return time.Second
}

// Run connects to the decision socket, waits for a request, answers it and
// reconnects, until ctx is done.
func (c *Client) Run(ctx context.Context, a Authorizer) error {
	var dialer net.Dialer
	for {
		if err := c.waitForSocket(ctx); err != nil {
			return err
		}

		conn, err := dialer.DialContext(ctx, "unix", c.SocketPath)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			syslog.L.Debug().WithMessage("decision socket not accepting connections").
				WithField("path", c.SocketPath).WithField("error", err.Error()).Write()
			if err := sleep(ctx, c.retryInterval()); err != nil {
				return err
			}
			continue
		}

		if err := c.serveOne(ctx, conn, a); err != nil && !errors.Is(err, io.EOF) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			syslog.L.Warn().WithMessage("decision exchange failed").
				WithField("error", err.Error()).Write()
		}
	}
}

func (c *Client) serveOne(ctx context.Context, conn net.Conn, a Authorizer) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var req Request
	if err := wire.ReadFrame(conn, &req, c.MaxFrameSize); err != nil {
		return err
	}

	allowed := false
	if req.Type == RequestType {
		allowed = a.Authorize(ctx, req.Path, req.Pid)
	} else {
		syslog.L.Warn().WithMessage("unexpected decision request type").
			WithField("type", req.Type).Write()
	}

	if err := wire.WriteFrame(conn, Reply{Allowed: allowed}); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// waitForSocket returns once the socket file exists. It watches the parent
// directory and falls back to polling when the directory cannot be watched.
func (c *Client) waitForSocket(ctx context.Context) error {
	if _, err := os.Stat(c.SocketPath); err == nil {
		return nil
	}

	var events <-chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(c.SocketPath)); err == nil {
			events = watcher.Events
		}
	}

	ticker := time.NewTicker(c.retryInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(c.SocketPath) && ev.Has(fsnotify.Create) {
				return nil
			}
		case <-ticker.C:
			if _, err := os.Stat(c.SocketPath); err == nil {
				return nil
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
