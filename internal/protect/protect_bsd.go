//go:build darwin || freebsd || netbsd || openbsd

package protect

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

const ufImmutable = 0x00000002

func New(method string, opts ...Option) (Backend, error) {
	switch method {
	case "", MethodChattr, MethodIoctl:
		return &ChflagsBackend{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// ChflagsBackend toggles UF_IMMUTABLE with chflags(2).
type ChflagsBackend struct{}

func (b *ChflagsBackend) Name() string { return "chflags" }

func (b *ChflagsBackend) Protect(ctx context.Context, paths []string) []Result {
	return each(ctx, paths, func(_ context.Context, p string) error {
		return setFlag(p, true)
	})
}

func (b *ChflagsBackend) Unprotect(ctx context.Context, paths []string) []Result {
	return each(ctx, paths, func(_ context.Context, p string) error {
		return setFlag(p, false)
	})
}

func setFlag(path string, set bool) error {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	flags := uint32(st.Flags)
	if set {
		flags |= ufImmutable
	} else {
		flags &^= ufImmutable
	}
	return unix.Chflags(path, int(flags))
}
