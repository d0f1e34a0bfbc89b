// Package helper executes one elevated operation handed over by the
// elevation broker and exits.
package helper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fadcrypt/fadcrypt/internal/daemon"
	"github.com/fadcrypt/fadcrypt/internal/elevation"
	"github.com/fadcrypt/fadcrypt/internal/protect"
	"github.com/fadcrypt/fadcrypt/internal/syslog"
	"github.com/fadcrypt/fadcrypt/internal/systools"
	"github.com/kardianos/service"
)

var (
	ErrNotElevated      = errors.New("helper must run with elevated privileges")
	ErrUnknownOperation = errors.New("unknown operation")
)

// Runner holds the collaborators of the helper operations.
type Runner struct {
	Backend      protect.Backend
	DisableTools func() error
	EnableTools  func() error
	Install      func() error
	Elevated     func() bool
}

func NewRunner(backend protect.Backend) *Runner {
	return &Runner{
		Backend:      backend,
		DisableTools: systools.Disable,
		EnableTools:  systools.Enable,
		Install:      installDaemon,
		Elevated:     isElevated,
	}
}

// Run decodes payload and executes the operation it names.
func (r *Runner) Run(ctx context.Context, payload string) error {
	if !r.Elevated() {
		return ErrNotElevated
	}

	op, err := elevation.DecodeOperation(payload)
	if err != nil {
		return err
	}

	syslog.L.Info().WithMessage("running elevated operation").
		WithField("operation", op.Name).WithField("args", len(op.Args)).Write()

	switch op.Name {
	case elevation.OpProtectFiles:
		return r.files(ctx, op.Args, r.Backend.Protect)
	case elevation.OpUnprotectFiles:
		return r.files(ctx, op.Args, r.Backend.Unprotect)
	case elevation.OpDisableTools:
		return r.DisableTools()
	case elevation.OpEnableTools:
		return r.EnableTools()
	case elevation.OpInstallDaemon:
		return r.Install()
	}
	return fmt.Errorf("%w: %s", ErrUnknownOperation, op.Name)
}

// files applies fn to the paths that exist. It fails only when no file
// could be processed.
func (r *Runner) files(ctx context.Context, paths []string, fn func(context.Context, []string) []protect.Result) error {
	if r.Backend == nil {
		return protect.ErrUnsupported
	}

	var existing []string
	for _, p := range paths {
		if _, err := os.Lstat(p); errors.Is(err, fs.ErrNotExist) {
			syslog.L.Warn().WithMessage("file not found").WithField("path", p).Write()
			continue
		}
		existing = append(existing, p)
	}
	if len(existing) == 0 {
		return errors.New("no files to process")
	}

	var errs []error
	done := 0
	for _, res := range fn(ctx, existing) {
		if res.Err != nil {
			syslog.L.Error(res.Err).WithMessage("file operation failed").WithField("path", res.Path).Write()
			errs = append(errs, res.Err)
			continue
		}
		done++
	}
	if done == 0 {
		return errors.Join(errs...)
	}

	syslog.L.Info().WithMessage("file operation completed").
		WithField("processed", done).WithField("total", len(paths)).Write()
	return nil
}

type noopProgram struct{}

func (noopProgram) Start(service.Service) error { return nil }
func (noopProgram) Stop(service.Service) error  { return nil }

// installDaemon registers the daemon service if needed and starts it.
func installDaemon() error {
	s, err := service.New(noopProgram{}, daemon.ServiceConfig())
	if err != nil {
		return fmt.Errorf("service definition: %w", err)
	}

	status, err := s.Status()
	if err != nil && errors.Is(err, service.ErrNotInstalled) {
		if err := s.Install(); err != nil {
			return fmt.Errorf("install service: %w", err)
		}
		status = service.StatusStopped
	}
	if status == service.StatusRunning {
		return nil
	}
	if err := s.Start(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	syslog.L.Info().WithMessage("daemon service installed and started").Write()
	return nil
}
