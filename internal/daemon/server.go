// Package daemon implements the privileged control daemon: a unix socket
// server that applies protection attributes and drives the access monitor
// on behalf of unprivileged clients.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"time"

	"github.com/fadcrypt/fadcrypt/internal/config"
	"github.com/fadcrypt/fadcrypt/internal/constants"
	"github.com/fadcrypt/fadcrypt/internal/metrics"
	"github.com/fadcrypt/fadcrypt/internal/monitor"
	"github.com/fadcrypt/fadcrypt/internal/protect"
	"github.com/fadcrypt/fadcrypt/internal/protocol"
	"github.com/fadcrypt/fadcrypt/internal/syslog"
	"github.com/fadcrypt/fadcrypt/internal/wire"
)

// AccessMonitor is the part of *monitor.Monitor the daemon drives.
type AccessMonitor interface {
	State() monitor.State
	Watch(paths []string) []protocol.ItemResult
	Unwatch(paths []string) []protocol.ItemResult
	Start(ctx context.Context) error
	Stop() error
}

type Server struct {
	cfg     *config.Config
	backend protect.Backend
	monitor AccessMonitor
	trust   TrustPolicy
	metrics *metrics.Metrics

	ln net.Listener
}

func NewServer(cfg *config.Config, backend protect.Backend, mon AccessMonitor, trust TrustPolicy, m *metrics.Metrics) *Server {
	if trust == nil {
		trust = AnyLocal{}
	}
	return &Server{
		cfg:     cfg,
		backend: backend,
		monitor: mon,
		trust:   trust,
		metrics: m,
	}
}

// Serve accepts connections one at a time until ctx is done or the listener
// is closed. Each connection carries one request and one response.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { s.ln.Close() })
	defer stop()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			syslog.L.Error(err).WithMessage("accept failed").Write()
			time.Sleep(100 * time.Millisecond)
			continue
		}
		s.handleConn(ctx, conn)
	}
}

func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var resp protocol.Response
	if err := s.trust.Authorize(conn); err != nil {
		syslog.L.Warn().WithMessage("rejected control connection").
			WithField("error", err.Error()).Write()
		resp = protocol.Failure("Permission denied: %v", err)
	} else {
		conn.SetReadDeadline(time.Now().Add(constants.DefaultClientTimeout))

		var req protocol.Request
		if err := wire.ReadFrame(conn, &req, s.cfg.MaxFrameSize); err != nil {
			syslog.L.Warn().WithMessage("malformed control request").
				WithField("error", err.Error()).Write()
			resp = protocol.Failure("Invalid request: %v", err)
		} else {
			resp = s.Dispatch(ctx, req)
		}
	}

	conn.SetWriteDeadline(time.Now().Add(constants.DefaultClientTimeout))
	if err := wire.WriteFrame(conn, resp); err != nil {
		syslog.L.Warn().WithMessage("failed to send response").
			WithField("error", err.Error()).Write()
	}
}

// Dispatch executes one request. It never panics; an unexpected failure is
// reported as an unsuccessful response.
func (s *Server) Dispatch(ctx context.Context, req protocol.Request) (resp protocol.Response) {
	cmd := req.Command.Canonical()

	defer func() {
		if r := recover(); r != nil {
			syslog.L.Error(fmt.Errorf("panic: %v", r)).
				WithMessage("request handler panicked").
				WithField("command", string(cmd)).
				WithField("stack", string(debug.Stack())).Write()
			resp = protocol.Failure("Internal error: %v", r)
		}
		s.metrics.ObserveRequest(string(cmd), resp.Success)
	}()

	if err := req.Validate(); err != nil {
		return protocol.Failure("Invalid request: %v", err)
	}
	if !cmd.Known() {
		return protocol.Failure("Unknown command: %s", req.Command)
	}
	if cmd.NeedsFiles() && len(req.Files) == 0 {
		return protocol.Failure("No files specified")
	}

	syslog.L.Debug().WithMessage("control request").
		WithField("command", string(cmd)).
		WithField("files", len(req.Files)).Write()

	switch cmd {
	case protocol.CmdPing:
		return protocol.Response{
			Success: true,
			Message: "pong",
			State:   s.monitor.State().String(),
			Version: constants.Version,
		}
	case protocol.CmdSetAttribute:
		return s.setAttribute(ctx, req)
	case protocol.CmdSetPermissionBits:
		return s.setPermissionBits(req)
	case protocol.CmdWatch:
		return s.watch(req.Files)
	case protocol.CmdUnwatch:
		return s.unwatch(req.Files)
	case protocol.CmdStartMonitor:
		return s.startMonitor(ctx)
	case protocol.CmdStopMonitor:
		return s.stopMonitor()
	}
	return protocol.Failure("Unknown command: %s", req.Command)
}
