package elevation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/fadcrypt/fadcrypt/internal/syslog"
)

// TaskScheduler registers a single-use task that runs the helper as
// LocalSystem, triggers it and deletes it again.
type TaskScheduler struct {
	HelperPath string

	run      runFunc
	lookPath lookPathFunc
	tempDir  string
}

func NewTaskScheduler(helperPath string) *TaskScheduler {
	return &TaskScheduler{HelperPath: helperPath, run: runCommand, lookPath: exec.LookPath}
}

func (s *TaskScheduler) Name() string { return "task-scheduler" }

func (s *TaskScheduler) Execute(ctx context.Context, op Operation) error {
	schtasks, err := s.lookPath("schtasks.exe")
	if err != nil {
		return fmt.Errorf("%w: schtasks.exe: %v", ErrFacilityUnavailable, err)
	}

	args, err := helperArgs(op)
	if err != nil {
		return err
	}
	task := ElevatedTask{Name: newTaskName(op.Name), Command: s.HelperPath, Arguments: args}

	doc, err := task.XML()
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(s.tempDir, "fadcrypt-task-*.xml")
	if err != nil {
		return fmt.Errorf("failed to write task definition: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(doc); err != nil {
		f.Close()
		return fmt.Errorf("failed to write task definition: %w", err)
	}
	f.Close()

	if _, err := s.run(ctx, schtasks, "/create", "/tn", task.Path(), "/xml", f.Name(), "/f"); err != nil {
		return fmt.Errorf("task registration failed: %w", err)
	}
	defer func() {
		if _, err := s.run(context.WithoutCancel(ctx), schtasks, "/delete", "/tn", task.Path(), "/f"); err != nil {
			syslog.L.Warn().WithMessage("failed to delete elevated task").
				WithField("task", task.Path()).WithField("error", err.Error()).Write()
		}
	}()

	if _, err := s.run(ctx, schtasks, "/run", "/tn", task.Path()); err != nil {
		return fmt.Errorf("task execution failed: %w", err)
	}

	syslog.L.Info().WithMessage("elevated task executed").
		WithField("operation", op.Name).WithField("task", task.Path()).Write()
	return nil
}

// Polkit runs the helper through pkexec. Authorization is cached by polkit
// according to the action's policy.
type Polkit struct {
	HelperPath string

	run      runFunc
	lookPath lookPathFunc
}

func NewPolkit(helperPath string) *Polkit {
	return &Polkit{HelperPath: helperPath, run: runCommand, lookPath: exec.LookPath}
}

func (p *Polkit) Name() string { return "pkexec" }

func (p *Polkit) Execute(ctx context.Context, op Operation) error {
	pkexec, err := p.lookPath("pkexec")
	if err != nil {
		return fmt.Errorf("%w: pkexec: %v", ErrFacilityUnavailable, err)
	}
	args, err := helperArgs(op)
	if err != nil {
		return err
	}

	if _, err := p.run(ctx, pkexec, append([]string{p.HelperPath}, args...)...); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 126 {
			return fmt.Errorf("authorization dismissed: %w", err)
		}
		return fmt.Errorf("pkexec %s failed: %w", op.Name, err)
	}
	return nil
}

// Sudo runs the helper through sudo, prompting on the controlling terminal.
type Sudo struct {
	HelperPath string

	run      runFunc
	lookPath lookPathFunc
}

func NewSudo(helperPath string) *Sudo {
	return &Sudo{HelperPath: helperPath, run: runCommand, lookPath: exec.LookPath}
}

func (s *Sudo) Name() string { return "sudo" }

func (s *Sudo) Execute(ctx context.Context, op Operation) error {
	sudo, err := s.lookPath("sudo")
	if err != nil {
		return fmt.Errorf("%w: sudo: %v", ErrFacilityUnavailable, err)
	}
	args, err := helperArgs(op)
	if err != nil {
		return err
	}

	if _, err := s.run(ctx, sudo, append([]string{"--", s.HelperPath}, args...)...); err != nil {
		return fmt.Errorf("sudo %s failed: %w", op.Name, err)
	}
	return nil
}
