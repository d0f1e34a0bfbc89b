// Package monitor mediates opens of watched paths: the kernel holds each
// open until the monitor writes an allow or deny verdict, which it obtains
// from the decision channel.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fadcrypt/fadcrypt/internal/constants"
	"github.com/fadcrypt/fadcrypt/internal/decision"
	"github.com/fadcrypt/fadcrypt/internal/fanotify"
	"github.com/fadcrypt/fadcrypt/internal/metrics"
	"github.com/fadcrypt/fadcrypt/internal/protocol"
	"github.com/fadcrypt/fadcrypt/internal/syslog"
	"golang.org/x/time/rate"
)

type State int

const (
	Uninitialized State = iota
	Initialized
	Watching
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Watching:
		return "watching"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Decision reasons reported in metrics.
const (
	reasonClient     = "client"
	reasonNoClient   = "no_client"
	reasonUnwatched  = "unwatched"
	reasonUnresolved = "unresolved"
	reasonSelf       = "self"
	reasonExempt     = "exempt"
	reasonStopping   = "stopping"
)

type decider interface {
	Ask(ctx context.Context, path string, pid int32) (bool, error)
	Close() error
}

type Config struct {
	DecisionSocket  string
	DecisionTimeout time.Duration
	StopTimeout     time.Duration
	MaxFrameSize    int
	Metrics         *metrics.Metrics

	// Exempt lists executable globs whose opens are always allowed.
	Exempt []string
}

type Monitor struct {
	cfg Config

	mu       sync.Mutex
	state    State
	kernel   kernel
	decider  decider
	watched  *WatchSet
	isDir    map[string]bool
	stopping atomic.Bool
	done     chan struct{}

	openKernel  func() (kernel, error)
	openDecider func() (decider, error)
	exeOf       func(pid int32) (string, error)
	exempt      *Exemptions

	readErrors rate.Sometimes
	pid        int32
}

// New builds a monitor. It fails only on an invalid exemption pattern.
func New(cfg Config) (*Monitor, error) {
	if cfg.DecisionTimeout <= 0 {
		cfg.DecisionTimeout = constants.DefaultDecisionTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = constants.DefaultMonitorStopTimeout
	}

	exempt, err := CompileExemptions(cfg.Exempt)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:        cfg,
		exempt:     exempt,
		exeOf:      processExe,
		watched:    NewWatchSet(),
		isDir:      make(map[string]bool),
		openKernel: openKernel,
		readErrors: rate.Sometimes{Interval: 10 * time.Second},
		pid:        int32(os.Getpid()),
	}
	m.openDecider = func() (decider, error) {
		return decision.Listen(cfg.DecisionSocket, cfg.DecisionTimeout, cfg.MaxFrameSize)
	}
	return m, nil
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) Watched() []string {
	return m.watched.Paths()
}

// Init opens the kernel handle and the decision socket. It is a no-op when
// both are already open. On failure the monitor stays uninitialized.
func (m *Monitor) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initLocked()
}

func (m *Monitor) initLocked() error {
	if m.kernel != nil {
		return nil
	}

	k, err := m.openKernel()
	if err != nil {
		m.state = Uninitialized
		return fmt.Errorf("failed to initialize access monitor: %w", err)
	}

	d, err := m.openDecider()
	if err != nil {
		k.Close()
		m.state = Uninitialized
		return fmt.Errorf("failed to open decision socket: %w", err)
	}

	m.kernel = k
	m.decider = d
	m.state = Initialized
	syslog.L.Info().WithMessage("access monitor initialized").
		WithField("decision_socket", m.cfg.DecisionSocket).Write()
	return nil
}

func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}

// Watch marks each path. A path is added to the WatchSet only after its
// kernel mark succeeded; watching an already watched path succeeds without
// touching the kernel.
func (m *Monitor) Watch(paths []string) []protocol.ItemResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]protocol.ItemResult, 0, len(paths))
	if err := m.initLocked(); err != nil {
		for _, p := range paths {
			results = append(results, protocol.ItemResult{Path: p, Error: err.Error()})
		}
		return results
	}

	for _, p := range paths {
		path, err := canonical(p)
		if err != nil {
			results = append(results, protocol.ItemResult{Path: p, Error: err.Error()})
			continue
		}
		if m.watched.Contains(path) {
			results = append(results, protocol.ItemResult{Path: path, Success: true})
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			results = append(results, protocol.ItemResult{Path: path, Error: err.Error()})
			continue
		}
		if err := m.kernel.Mark(path, info.IsDir()); err != nil {
			results = append(results, protocol.ItemResult{Path: path, Error: fmt.Sprintf("mark: %v", err)})
			continue
		}

		m.isDir[path] = info.IsDir()
		m.watched.Add(path)
		results = append(results, protocol.ItemResult{Path: path, Success: true})
	}

	if m.state == Initialized && m.watched.Len() > 0 {
		m.state = Watching
	}
	m.cfg.Metrics.SetWatched(m.watched.Len())
	return results
}

// Unwatch drops each path from the WatchSet and then removes its kernel
// mark. The intercept loop reads the WatchSet without the monitor lock, so
// the entry goes first: once the mark is gone the path is never seen as
// watched. A failed unmark is logged only. Paths that were never watched
// succeed.
func (m *Monitor) Unwatch(paths []string) []protocol.ItemResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]protocol.ItemResult, 0, len(paths))
	for _, p := range paths {
		path, err := canonical(p)
		if err != nil {
			results = append(results, protocol.ItemResult{Path: p, Error: err.Error()})
			continue
		}
		if !m.watched.Contains(path) {
			results = append(results, protocol.ItemResult{Path: path, Success: true})
			continue
		}

		isDir := m.isDir[path]
		m.watched.Remove(path)
		delete(m.isDir, path)
		if m.kernel != nil {
			if err := m.kernel.Unmark(path, isDir); err != nil {
				syslog.L.Warn().WithMessage("failed to remove kernel mark").
					WithField("path", path).WithField("error", err.Error()).Write()
			}
		}
		results = append(results, protocol.ItemResult{Path: path, Success: true})
	}

	if m.state == Watching && m.watched.Len() == 0 {
		m.state = Initialized
	}
	m.cfg.Metrics.SetWatched(m.watched.Len())
	return results
}

// Start launches the intercept loop. It is a no-op while running. Values of
// ctx are visible to the decision round-trips; its cancellation is not: an
// outstanding decision only ends by answer or timeout.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Running {
		return nil
	}
	if err := m.initLocked(); err != nil {
		return err
	}

	m.done = make(chan struct{})
	m.stopping.Store(false)
	m.state = Running

	go m.loop(context.WithoutCancel(ctx), m.kernel, m.decider, m.done)

	syslog.L.Info().WithMessage("access monitor started").
		WithField("watched", m.watched.Len()).Write()
	return nil
}

// Stop ends the intercept loop and releases the kernel handle and decision
// socket. An outstanding decision is not cancelled: Stop waits StopTimeout
// for the loop, then at most one more DecisionTimeout for the decision to
// expire. Records not yet handled are denied. The WatchSet is cleared.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.kernel == nil {
		m.state = Stopped
		return nil
	}

	var errs []error
	if m.done != nil {
		m.stopping.Store(true)
		if err := m.kernel.Wake(); err != nil {
			errs = append(errs, fmt.Errorf("wake: %w", err))
		}

		if !waitDone(m.done, m.cfg.StopTimeout) {
			syslog.L.Warn().WithMessage("access monitor waiting for outstanding decision").
				WithField("timeout", m.cfg.DecisionTimeout.String()).Write()
			if !waitDone(m.done, m.cfg.DecisionTimeout) {
				errs = append(errs, errors.New("intercept loop did not exit"))
			}
		}
		m.done = nil
	}

	for path, isDir := range m.isDir {
		if err := m.kernel.Unmark(path, isDir); err != nil {
			syslog.L.Debug().WithMessage("failed to remove kernel mark on stop").
				WithField("path", path).WithField("error", err.Error()).Write()
		}
	}
	if err := m.decider.Close(); err != nil {
		syslog.L.Debug().WithMessage("decision socket close").WithField("error", err.Error()).Write()
	}
	if err := m.kernel.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close kernel handle: %w", err))
	}

	m.kernel = nil
	m.decider = nil
	m.watched.Clear()
	clear(m.isDir)
	m.state = Stopped
	m.cfg.Metrics.SetWatched(0)

	syslog.L.Info().WithMessage("access monitor stopped").Write()
	return errors.Join(errs...)
}

func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

func (m *Monitor) loop(ctx context.Context, k kernel, d decider, done chan struct{}) {
	defer close(done)

	buf := make([]byte, constants.ReadBufferSize)
	for {
		n, err := k.Read(buf)
		if n > 0 {
			m.handleBuffer(ctx, k, d, buf[:n])
		}
		if m.stopping.Load() {
			return
		}
		if err != nil && !errors.Is(err, errWoken) {
			m.readErrors.Do(func() {
				syslog.L.Error(err).WithMessage("fanotify read failed").Write()
			})
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// handleBuffer resolves every record of one read in order. A slow decision
// holds back the records after it.
func (m *Monitor) handleBuffer(ctx context.Context, k kernel, d decider, buf []byte) {
	events, err := fanotify.DecodeEvents(buf)
	for _, ev := range events {
		m.handleEvent(ctx, k, d, ev)
	}
	if err != nil {
		syslog.L.Error(err).WithMessage("dropping remainder of fanotify buffer").
			WithField("decoded", len(events)).Write()
	}
}

func (m *Monitor) handleEvent(ctx context.Context, k kernel, d decider, ev fanotify.EventMetadata) {
	if ev.Fd == fanotify.NoFd {
		syslog.L.Warn().WithMessage("fanotify queue overflow").Write()
		return
	}
	defer k.CloseFd(ev.Fd)

	if !ev.IsPermission() {
		return
	}

	allowed, reason := m.decide(ctx, k, d, ev)
	if err := k.Respond(ev.Fd, allowed); err != nil {
		syslog.L.Error(err).WithMessage("failed to write fanotify response").
			WithField("pid", ev.Pid).Write()
	}
	m.cfg.Metrics.ObserveDecision(allowed, reason)
}

func (m *Monitor) decide(ctx context.Context, k kernel, d decider, ev fanotify.EventMetadata) (bool, string) {
	if ev.Pid == m.pid {
		return true, reasonSelf
	}

	path, err := k.ResolvePath(ev.Fd)
	if err != nil {
		syslog.L.Debug().WithMessage("could not resolve event path, allowing").
			WithField("fd", ev.Fd).WithField("error", err.Error()).Write()
		return true, reasonUnresolved
	}
	if !m.watched.Covers(path) {
		return true, reasonUnwatched
	}

	if !m.exempt.Empty() {
		if exe, err := m.exeOf(ev.Pid); err == nil {
			if pattern, ok := m.exempt.Match(exe); ok {
				syslog.L.Debug().WithMessage("exempt process, allowing").
					WithField("path", path).WithField("exe", exe).
					WithField("pattern", pattern).Write()
				return true, reasonExempt
			}
		}
	}

	if m.stopping.Load() {
		return false, reasonStopping
	}

	allowed, err := d.Ask(ctx, path, ev.Pid)
	if err != nil {
		syslog.L.Warn().WithMessage("no access decision, denying").
			WithField("path", path).WithField("pid", ev.Pid).
			WithField("error", err.Error()).Write()
		return false, reasonNoClient
	}

	syslog.L.Info().WithMessage("access decision").
		WithField("path", path).WithField("pid", ev.Pid).
		WithField("allowed", allowed).Write()
	return allowed, reasonClient
}
