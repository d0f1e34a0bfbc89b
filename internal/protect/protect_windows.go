//go:build windows

package protect

import (
	"context"
	"fmt"

	"golang.org/x/sys/windows"
)

const lockAttributes = windows.FILE_ATTRIBUTE_HIDDEN | windows.FILE_ATTRIBUTE_SYSTEM | windows.FILE_ATTRIBUTE_READONLY

func New(method string, opts ...Option) (Backend, error) {
	return &AttributeBackend{}, nil
}

// AttributeBackend marks files hidden, system and read-only, leaving any
// other attribute bits untouched.
type AttributeBackend struct{}

func (b *AttributeBackend) Name() string { return "attributes" }

func (b *AttributeBackend) Protect(ctx context.Context, paths []string) []Result {
	return each(ctx, paths, func(_ context.Context, p string) error {
		return updateAttributes(p, func(a uint32) uint32 { return a | lockAttributes })
	})
}

func (b *AttributeBackend) Unprotect(ctx context.Context, paths []string) []Result {
	return each(ctx, paths, func(_ context.Context, p string) error {
		return updateAttributes(p, func(a uint32) uint32 {
			a &^= lockAttributes
			if a == 0 {
				a = windows.FILE_ATTRIBUTE_NORMAL
			}
			return a
		})
	})
}

func updateAttributes(path string, fn func(uint32) uint32) error {
	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}

	attrs, err := windows.GetFileAttributes(name)
	if err != nil {
		return fmt.Errorf("get attributes: %w", err)
	}

	next := fn(attrs &^ windows.FILE_ATTRIBUTE_DIRECTORY)
	if err := windows.SetFileAttributes(name, next); err != nil {
		return fmt.Errorf("set attributes: %w", err)
	}
	return nil
}
