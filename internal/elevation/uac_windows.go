//go:build windows

package elevation

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sys/windows"
)

// UAC relaunches the helper through ShellExecute with the "runas" verb.
// The consent prompt is shown every time; there is no retry.
type UAC struct {
	HelperPath string

	shellExecute func(verb, file, args string) error
}

func NewUAC(helperPath string) *UAC {
	return &UAC{HelperPath: helperPath, shellExecute: shellExecuteRunas}
}

func (u *UAC) Name() string { return "uac" }

func (u *UAC) Execute(ctx context.Context, op Operation) error {
	args, err := helperArgs(op)
	if err != nil {
		return err
	}
	if err := u.shellExecute("runas", u.HelperPath, strings.Join(args, " ")); err != nil {
		return fmt.Errorf("UAC elevation failed: %w", err)
	}
	return nil
}

func shellExecuteRunas(verb, file, args string) error {
	verbPtr, err := windows.UTF16PtrFromString(verb)
	if err != nil {
		return err
	}
	filePtr, err := windows.UTF16PtrFromString(file)
	if err != nil {
		return err
	}
	argsPtr, err := windows.UTF16PtrFromString(args)
	if err != nil {
		return err
	}
	return windows.ShellExecute(0, verbPtr, filePtr, argsPtr, nil, windows.SW_HIDE)
}

// DefaultStrategies returns the task scheduler with UAC as fallback.
func DefaultStrategies(helperPath string) (preferred, fallback Strategy) {
	return NewTaskScheduler(helperPath), NewUAC(helperPath)
}
