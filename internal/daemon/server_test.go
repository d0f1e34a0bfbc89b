//go:build !windows

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fadcrypt/fadcrypt/internal/config"
	"github.com/fadcrypt/fadcrypt/internal/monitor"
	"github.com/fadcrypt/fadcrypt/internal/protect"
	"github.com/fadcrypt/fadcrypt/internal/protocol"
	"github.com/fadcrypt/fadcrypt/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu        sync.Mutex
	protected map[string]bool
	fail      map[string]error
	delay     time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{protected: make(map[string]bool), fail: make(map[string]error)}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) apply(ctx context.Context, paths []string, set bool) []protect.Result {
	results := make([]protect.Result, 0, len(paths))
	for _, p := range paths {
		if b.delay > 0 {
			select {
			case <-time.After(b.delay):
			case <-ctx.Done():
				results = append(results, protect.Result{Path: p, Err: fmt.Errorf("%s: %w", p, protect.ErrHelperTimeout)})
				continue
			}
		}
		b.mu.Lock()
		err := b.fail[p]
		if err == nil {
			b.protected[p] = set
		}
		b.mu.Unlock()
		if err != nil {
			err = fmt.Errorf("%s: %w", p, err)
		}
		results = append(results, protect.Result{Path: p, Err: err})
	}
	return results
}

func (b *fakeBackend) Protect(ctx context.Context, paths []string) []protect.Result {
	return b.apply(ctx, paths, true)
}

func (b *fakeBackend) Unprotect(ctx context.Context, paths []string) []protect.Result {
	return b.apply(ctx, paths, false)
}

type fakeMonitor struct {
	state    monitor.State
	watched  map[string]bool
	startErr error
	panicOn  string
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{watched: make(map[string]bool)}
}

func (m *fakeMonitor) State() monitor.State { return m.state }

func (m *fakeMonitor) Watch(paths []string) []protocol.ItemResult {
	var out []protocol.ItemResult
	for _, p := range paths {
		if p == m.panicOn {
			panic("boom")
		}
		m.watched[p] = true
		out = append(out, protocol.ItemResult{Path: p, Success: true})
	}
	m.state = monitor.Watching
	return out
}

func (m *fakeMonitor) Unwatch(paths []string) []protocol.ItemResult {
	var out []protocol.ItemResult
	for _, p := range paths {
		delete(m.watched, p)
		out = append(out, protocol.ItemResult{Path: p, Success: true})
	}
	return out
}

func (m *fakeMonitor) Start(context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.state = monitor.Running
	return nil
}

func (m *fakeMonitor) Stop() error {
	m.state = monitor.Stopped
	clear(m.watched)
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeBackend, *fakeMonitor) {
	t.Helper()
	b := newFakeBackend()
	m := newFakeMonitor()
	return NewServer(config.Defaults(), b, m, nil, nil), b, m
}

func writeFile(t *testing.T, dir, name string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), mode))
	require.NoError(t, os.Chmod(path, mode))
	return path
}

func TestPingInEveryState(t *testing.T) {
	s, _, m := newTestServer(t)
	for _, st := range []monitor.State{monitor.Uninitialized, monitor.Initialized, monitor.Watching, monitor.Running, monitor.Stopped} {
		m.state = st
		resp := s.Dispatch(t.Context(), protocol.Request{Command: protocol.CmdPing})
		assert.True(t, resp.Success)
		assert.Equal(t, "pong", resp.Message)
		assert.Equal(t, st.String(), resp.State)
	}
}

func TestUnknownCommand(t *testing.T) {
	s, _, _ := newTestServer(t)
	resp := s.Dispatch(t.Context(), protocol.Request{Command: "reboot"})
	assert.False(t, resp.Success)
	assert.Equal(t, "Unknown command: reboot", resp.Error)
}

func TestFileCommandWithoutFiles(t *testing.T) {
	s, _, _ := newTestServer(t)
	resp := s.Dispatch(t.Context(), protocol.Request{Command: "chattr", Mode: protocol.StringMode("+i")})
	assert.False(t, resp.Success)
	assert.Equal(t, "No files specified", resp.Error)
}

func TestSetAttributeSkipsMissingOnSet(t *testing.T) {
	s, b, _ := newTestServer(t)
	dir := t.TempDir()
	a := writeFile(t, dir, "a", 0o644)
	missing := filepath.Join(dir, "missing")

	resp := s.Dispatch(t.Context(), protocol.Request{
		Command: protocol.CmdSetAttribute,
		Files:   []string{a, missing},
		Mode:    protocol.StringMode("set"),
	})

	assert.False(t, resp.Success)
	assert.Equal(t, 1, resp.FilesProcessed)
	assert.Equal(t, []string{missing + ": Not found"}, resp.Errors)
	assert.True(t, b.protected[a])
}

func TestSetAttributeUnsetToleratesMissing(t *testing.T) {
	s, b, _ := newTestServer(t)
	missing := filepath.Join(t.TempDir(), "gone")

	resp := s.Dispatch(t.Context(), protocol.Request{
		Command: "chattr",
		Files:   []string{missing},
		Mode:    protocol.StringMode("-i"),
	})

	assert.True(t, resp.Success)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, 1, resp.FilesProcessed)
	assert.NotContains(t, b.protected, missing)
}

func TestSetAttributeNoValidFiles(t *testing.T) {
	s, _, _ := newTestServer(t)
	resp := s.Dispatch(t.Context(), protocol.Request{
		Command: protocol.CmdSetAttribute,
		Files:   []string{filepath.Join(t.TempDir(), "missing")},
		Mode:    protocol.StringMode("set"),
	})
	assert.False(t, resp.Success)
	assert.Equal(t, "No valid files to process", resp.Error)
}

func TestSetAttributeInvalidMode(t *testing.T) {
	s, _, _ := newTestServer(t)
	resp := s.Dispatch(t.Context(), protocol.Request{
		Command: protocol.CmdSetAttribute,
		Files:   []string{"/tmp"},
		Mode:    protocol.StringMode("+x"),
	})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Invalid mode")
}

func TestSetAttributeBackendFailureIsPerFile(t *testing.T) {
	s, b, _ := newTestServer(t)
	dir := t.TempDir()
	a := writeFile(t, dir, "a", 0o644)
	c := writeFile(t, dir, "c", 0o644)
	b.fail[a] = errors.New("Operation not supported")

	resp := s.Dispatch(t.Context(), protocol.Request{
		Command: protocol.CmdSetAttribute,
		Files:   []string{a, c},
		Mode:    protocol.StringMode("set"),
	})

	assert.False(t, resp.Success)
	assert.Equal(t, 1, resp.FilesProcessed)
	require.Len(t, resp.Results, 2)
	assert.False(t, resp.Results[0].Success)
	assert.True(t, resp.Results[1].Success)
	assert.True(t, b.protected[c])
}

func TestSetAttributeTimeout(t *testing.T) {
	s, b, _ := newTestServer(t)
	s.cfg.HelperTimeout.Duration = 20 * time.Millisecond
	b.delay = time.Second
	a := writeFile(t, t.TempDir(), "a", 0o644)

	start := time.Now()
	resp := s.Dispatch(t.Context(), protocol.Request{
		Command: protocol.CmdSetAttribute,
		Files:   []string{a},
		Mode:    protocol.StringMode("set"),
	})
	assert.False(t, resp.Success)
	assert.Equal(t, "Command timeout", resp.Error)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestSetPermissionBits(t *testing.T) {
	s, _, _ := newTestServer(t)
	dir := t.TempDir()
	a := writeFile(t, dir, "a", 0o644)
	b := writeFile(t, dir, "b", 0o644)
	missing := filepath.Join(dir, "missing")

	resp := s.Dispatch(t.Context(), protocol.Request{
		Command: "chmod",
		Files:   []string{a, missing, b},
		Mode:    protocol.StringMode("600"),
	})

	assert.False(t, resp.Success)
	assert.Equal(t, "chmod completed for 2 files", resp.Message)
	assert.Equal(t, 2, resp.FilesProcessed)
	assert.Equal(t, []string{missing + ": Not found"}, resp.Errors)

	for _, p := range []string{a, b} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestSetPermissionBitsSymbolicAndInteger(t *testing.T) {
	s, _, _ := newTestServer(t)
	a := writeFile(t, t.TempDir(), "a", 0o600)

	resp := s.Dispatch(t.Context(), protocol.Request{
		Command: protocol.CmdSetPermissionBits,
		Files:   []string{a},
		Mode:    protocol.StringMode("go+r"),
	})
	require.True(t, resp.Success, resp.Error)
	info, _ := os.Stat(a)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	resp = s.Dispatch(t.Context(), protocol.Request{
		Command: protocol.CmdSetPermissionBits,
		Files:   []string{a},
		Mode:    protocol.IntMode(0o400),
	})
	require.True(t, resp.Success, resp.Error)
	info, _ = os.Stat(a)
	assert.Equal(t, os.FileMode(0o400), info.Mode().Perm())
}

func TestSetPermissionBitsInvalidModeTouchesNothing(t *testing.T) {
	s, _, _ := newTestServer(t)
	a := writeFile(t, t.TempDir(), "a", 0o644)

	resp := s.Dispatch(t.Context(), protocol.Request{
		Command: protocol.CmdSetPermissionBits,
		Files:   []string{a},
		Mode:    protocol.StringMode("u+q"),
	})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Invalid mode")

	info, _ := os.Stat(a)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestWatchLifecycleCommands(t *testing.T) {
	s, _, m := newTestServer(t)

	resp := s.Dispatch(t.Context(), protocol.Request{Command: "fanotify_watch", Files: []string{"/home/u/a"}})
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.FilesProcessed)
	assert.True(t, m.watched["/home/u/a"])

	resp = s.Dispatch(t.Context(), protocol.Request{Command: protocol.CmdStartMonitor})
	assert.True(t, resp.Success)
	assert.Equal(t, "running", resp.State)

	resp = s.Dispatch(t.Context(), protocol.Request{Command: protocol.CmdUnwatch, Files: []string{"/never"}})
	assert.True(t, resp.Success)

	resp = s.Dispatch(t.Context(), protocol.Request{Command: "fanotify_stop"})
	assert.True(t, resp.Success)
	assert.Equal(t, "stopped", resp.State)
	assert.Empty(t, m.watched)
}

func TestStartMonitorFailure(t *testing.T) {
	s, _, m := newTestServer(t)
	m.startErr = monitor.ErrUnsupported

	resp := s.Dispatch(t.Context(), protocol.Request{Command: protocol.CmdStartMonitor})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Failed to start monitor")
}

func TestDispatchRecoversPanic(t *testing.T) {
	s, _, m := newTestServer(t)
	m.panicOn = "/boom"

	resp := s.Dispatch(t.Context(), protocol.Request{Command: protocol.CmdWatch, Files: []string{"/boom"}})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Internal error")

	resp = s.Dispatch(t.Context(), protocol.Request{Command: protocol.CmdPing})
	assert.True(t, resp.Success)
}

func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "fd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "c.sock")
}

func serve(t *testing.T, s *Server) string {
	t.Helper()
	path := socketPath(t)
	require.NoError(t, s.listenPath(path))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return path
}

func roundTrip(t *testing.T, path string, payload func(net.Conn)) protocol.Response {
	t.Helper()
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	payload(conn)

	var resp protocol.Response
	require.NoError(t, wire.ReadFrame(conn, &resp, 0))
	return resp
}

func TestServeOverSocket(t *testing.T) {
	s, _, _ := newTestServer(t)
	path := serve(t, s)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o666), info.Mode().Perm())

	resp := roundTrip(t, path, func(c net.Conn) {
		require.NoError(t, wire.WriteFrame(c, protocol.Request{Command: protocol.CmdPing}))
	})
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Message)

	resp = roundTrip(t, path, func(c net.Conn) {
		c.Write([]byte{0x02, 0xff, 0xff})
	})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Invalid request")

	resp = roundTrip(t, path, func(c net.Conn) {
		require.NoError(t, wire.WriteFrame(c, protocol.Request{Command: protocol.CmdPing}))
	})
	assert.True(t, resp.Success)
}

func TestServeRejectsOversizedFrame(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.cfg.MaxFrameSize = 16
	path := serve(t, s)

	resp := roundTrip(t, path, func(c net.Conn) {
		require.NoError(t, wire.WriteFrame(c, protocol.Request{
			Command: protocol.CmdWatch,
			Files:   []string{"/a/very/long/path/that/exceeds/the/limit"},
		}))
	})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Invalid request")
}
