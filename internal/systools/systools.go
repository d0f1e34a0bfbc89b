// Package systools turns per-user policies for system tools (command
// prompt, task manager, registry editor, control panel, PowerShell scripts)
// on and off.
package systools

import (
	"errors"
	"fmt"

	"github.com/fadcrypt/fadcrypt/internal/syslog"
)

var (
	ErrUnsupported = errors.New("system tool policies are not supported on this platform")
	ErrNoneApplied = errors.New("no policy could be changed")
)

type Policy struct {
	Key   string
	Value string
	Data  uint32
}

// Policies are written under HKEY_CURRENT_USER.
var Policies = []Policy{
	{Key: `Software\Policies\Microsoft\Windows\System`, Value: "DisableCMD", Data: 1},
	{Key: `Software\Microsoft\Windows\CurrentVersion\Policies\System`, Value: "DisableTaskMgr", Data: 1},
	{Key: `Software\Microsoft\Windows\CurrentVersion\Policies\Explorer`, Value: "NoControlPanel", Data: 1},
	{Key: `Software\Microsoft\Windows\CurrentVersion\Policies\System`, Value: "DisableRegistryTools", Data: 1},
	{Key: `Software\Policies\Microsoft\Windows\PowerShell`, Value: "ExecutionPolicy", Data: 0},
}

// policyStore abstracts the registry hive the policies live in.
type policyStore interface {
	SetDWORD(key, value string, data uint32) error
	// Delete removes a value; a missing key or value is not an error.
	Delete(key, value string) error
}

func disable(store policyStore) error {
	applied := 0
	var errs []error
	for _, p := range Policies {
		if err := store.SetDWORD(p.Key, p.Value, p.Data); err != nil {
			syslog.L.Warn().WithMessage("failed to disable system tool").
				WithField("policy", p.Value).WithField("error", err.Error()).Write()
			errs = append(errs, fmt.Errorf("%s: %w", p.Value, err))
			continue
		}
		applied++
	}
	if applied == 0 {
		return fmt.Errorf("%w: %w", ErrNoneApplied, errors.Join(errs...))
	}
	syslog.L.Info().WithMessage("system tools disabled").
		WithField("applied", applied).WithField("total", len(Policies)).Write()
	return nil
}

func enable(store policyStore) error {
	applied := 0
	var errs []error
	for _, p := range Policies {
		if err := store.Delete(p.Key, p.Value); err != nil {
			syslog.L.Warn().WithMessage("failed to enable system tool").
				WithField("policy", p.Value).WithField("error", err.Error()).Write()
			errs = append(errs, fmt.Errorf("%s: %w", p.Value, err))
			continue
		}
		applied++
	}
	if applied == 0 {
		return fmt.Errorf("%w: %w", ErrNoneApplied, errors.Join(errs...))
	}
	syslog.L.Info().WithMessage("system tools enabled").
		WithField("applied", applied).WithField("total", len(Policies)).Write()
	return nil
}
