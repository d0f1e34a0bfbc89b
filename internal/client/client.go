// Package client talks to the control daemon on behalf of the unprivileged
// application.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Masterminds/semver"
	"github.com/fadcrypt/fadcrypt/internal/constants"
	"github.com/fadcrypt/fadcrypt/internal/protocol"
	"github.com/fadcrypt/fadcrypt/internal/wire"
)

var (
	ErrDaemonUnavailable = errors.New("daemon is not available")
	ErrIncompatible      = errors.New("daemon version is incompatible")
)

// Client sends one request per connection. The daemon serves connections
// one at a time, so a request may first wait behind the slowest command
// another caller sent.
type Client struct {
	SocketPath string

	// Timeout is the allowance on top of the daemon's own limits.
	Timeout time.Duration

	// The daemon's limits. They should match its configuration; zero
	// values leave Timeout as the only bound.
	HelperTimeout   time.Duration
	StopTimeout     time.Duration
	DecisionTimeout time.Duration

	MaxFrameSize int
}

func New(socketPath string) *Client {
	if socketPath == "" {
		socketPath = constants.ControlSocketPath
	}
	return &Client{
		SocketPath:      socketPath,
		Timeout:         constants.DefaultClientTimeout,
		HelperTimeout:   constants.DefaultHelperTimeout,
		StopTimeout:     constants.DefaultMonitorStopTimeout,
		DecisionTimeout: constants.DefaultDecisionTimeout,
	}
}

// timeoutFor is the time to wait for cmd: the command's own daemon bound,
// plus the longest bound of a command the daemon may be busy with, plus
// Timeout.
func (c *Client) timeoutFor(cmd protocol.Command) time.Duration {
	stop := c.StopTimeout + c.DecisionTimeout
	busy := max(c.HelperTimeout, stop)

	var own time.Duration
	switch cmd.Canonical() {
	case protocol.CmdSetAttribute:
		own = c.HelperTimeout
	case protocol.CmdStopMonitor:
		own = stop
	}
	return c.Timeout + busy + own
}

// Do sends req on a fresh connection and returns the daemon's response.
// A response with Success false is not an error.
func (c *Client) Do(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	if timeout := c.timeoutFor(req.Command); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.SocketPath)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := wire.WriteFrame(conn, req); err != nil {
		return protocol.Response{}, fmt.Errorf("send %s: %w", req.Command, err)
	}

	var resp protocol.Response
	if err := wire.ReadFrame(conn, &resp, c.MaxFrameSize); err != nil {
		if ctx.Err() != nil {
			return protocol.Response{}, fmt.Errorf("%s: %w", req.Command, protocol.ErrTimeout)
		}
		return protocol.Response{}, fmt.Errorf("read %s response: %w", req.Command, err)
	}
	return resp, nil
}

func (c *Client) Ping(ctx context.Context) (protocol.Response, error) {
	return c.Do(ctx, protocol.Request{Command: protocol.CmdPing})
}

// IsAvailable reports whether the daemon answers ping.
func (c *Client) IsAvailable(ctx context.Context) bool {
	resp, err := c.Ping(ctx)
	return err == nil && resp.Success && resp.Message == "pong"
}

// CheckVersion pings the daemon and checks its version against a
// constraint such as ">= 1.2, < 2". It returns the daemon's version.
func (c *Client) CheckVersion(ctx context.Context, constraint string) (string, error) {
	cs, err := semver.NewConstraint(constraint)
	if err != nil {
		return "", fmt.Errorf("version constraint %q: %w", constraint, err)
	}

	resp, err := c.Ping(ctx)
	if err != nil {
		return "", err
	}
	if resp.Version == "" {
		return "", fmt.Errorf("%w: daemon did not report a version", ErrIncompatible)
	}

	v, err := semver.NewVersion(resp.Version)
	if err != nil {
		return resp.Version, fmt.Errorf("daemon version %q: %w", resp.Version, err)
	}
	if !cs.Check(v) {
		return resp.Version, fmt.Errorf("%w: daemon %s does not satisfy %s", ErrIncompatible, resp.Version, constraint)
	}
	return resp.Version, nil
}

func (c *Client) SetAttribute(ctx context.Context, files []string, mode string) (protocol.Response, error) {
	return c.Do(ctx, protocol.Request{Command: protocol.CmdSetAttribute, Files: files, Mode: protocol.StringMode(mode)})
}

// Lock makes files immutable.
func (c *Client) Lock(ctx context.Context, files ...string) (protocol.Response, error) {
	return c.SetAttribute(ctx, files, "set")
}

func (c *Client) Unlock(ctx context.Context, files ...string) (protocol.Response, error) {
	return c.SetAttribute(ctx, files, "unset")
}

func (c *Client) SetPermissionBits(ctx context.Context, files []string, mode protocol.Mode) (protocol.Response, error) {
	return c.Do(ctx, protocol.Request{Command: protocol.CmdSetPermissionBits, Files: files, Mode: mode})
}

func (c *Client) Watch(ctx context.Context, paths ...string) (protocol.Response, error) {
	return c.Do(ctx, protocol.Request{Command: protocol.CmdWatch, Files: paths})
}

func (c *Client) Unwatch(ctx context.Context, paths ...string) (protocol.Response, error) {
	return c.Do(ctx, protocol.Request{Command: protocol.CmdUnwatch, Files: paths})
}

func (c *Client) StartMonitor(ctx context.Context) (protocol.Response, error) {
	return c.Do(ctx, protocol.Request{Command: protocol.CmdStartMonitor})
}

func (c *Client) StopMonitor(ctx context.Context) (protocol.Response, error) {
	return c.Do(ctx, protocol.Request{Command: protocol.CmdStopMonitor})
}
