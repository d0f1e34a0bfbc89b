//go:build windows

package systools

import (
	"errors"

	"golang.org/x/sys/windows/registry"
)

type currentUser struct{}

func (currentUser) SetDWORD(key, value string, data uint32) error {
	k, _, err := registry.CreateKey(registry.CURRENT_USER, key, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer k.Close()
	return k.SetDWordValue(value, data)
}

func (currentUser) Delete(key, value string) error {
	k, err := registry.OpenKey(registry.CURRENT_USER, key, registry.SET_VALUE)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return nil
		}
		return err
	}
	defer k.Close()

	if err := k.DeleteValue(value); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return err
	}
	return nil
}

// Disable sets every policy. It succeeds when at least one was written.
func Disable() error {
	return disable(currentUser{})
}

// Enable removes every policy. Values that are already absent count as
// removed.
func Enable() error {
	return enable(currentUser{})
}
