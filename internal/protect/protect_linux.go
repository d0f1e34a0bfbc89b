//go:build linux

package protect

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

const fsImmutableFL = 0x00000010

// New returns the backend for method: "chattr" (default) shells out to
// chattr(1), "ioctl" flips FS_IMMUTABLE_FL directly.
func New(method string, opts ...Option) (Backend, error) {
	o := buildOptions(opts)
	switch method {
	case "", MethodChattr:
		return &ChattrBackend{path: o.chattrPath, run: o.run}, nil
	case MethodIoctl:
		return &IoctlBackend{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// ChattrBackend runs "chattr +i|-i <path>" once per path. The caller's
// context bounds every invocation.
type ChattrBackend struct {
	path string
	run  runFunc
}

func (b *ChattrBackend) Name() string { return MethodChattr }

func (b *ChattrBackend) Protect(ctx context.Context, paths []string) []Result {
	return each(ctx, paths, func(ctx context.Context, p string) error {
		_, err := b.run(ctx, b.path, "+i", p)
		return err
	})
}

func (b *ChattrBackend) Unprotect(ctx context.Context, paths []string) []Result {
	return each(ctx, paths, func(ctx context.Context, p string) error {
		_, err := b.run(ctx, b.path, "-i", p)
		return err
	})
}

type IoctlBackend struct{}

func (b *IoctlBackend) Name() string { return MethodIoctl }

func (b *IoctlBackend) Protect(ctx context.Context, paths []string) []Result {
	return each(ctx, paths, func(_ context.Context, p string) error {
		return setImmutable(p, true)
	})
}

func (b *IoctlBackend) Unprotect(ctx context.Context, paths []string) []Result {
	return each(ctx, paths, func(_ context.Context, p string) error {
		return setImmutable(p, false)
	})
}

func setImmutable(path string, set bool) error {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer unix.Close(fd)

	flags, err := unix.IoctlGetUint32(fd, unix.FS_IOC_GETFLAGS)
	if err != nil {
		return fmt.Errorf("get flags: %w", err)
	}

	if set {
		flags |= fsImmutableFL
	} else {
		flags &^= fsImmutableFL
	}

	if err := unix.IoctlSetPointerInt(fd, unix.FS_IOC_SETFLAGS, int(flags)); err != nil {
		return fmt.Errorf("set flags: %w", err)
	}
	return nil
}
