// Package protect applies and removes the platform's "locked file"
// attribute on batches of paths.
package protect

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrHelperTimeout is returned when the external attribute helper does
	// not finish within its deadline.
	ErrHelperTimeout = errors.New("attribute helper timed out")
	ErrUnknownMethod = errors.New("unknown protection method")
	ErrUnsupported   = errors.New("file protection is not supported on this platform")
)

const (
	MethodChattr = "chattr"
	MethodIoctl  = "ioctl"
)

type Result struct {
	Path string
	Err  error
}

// Backend toggles protection on each path independently; a failure on one
// path never prevents the others from being processed.
type Backend interface {
	Name() string
	Protect(ctx context.Context, paths []string) []Result
	Unprotect(ctx context.Context, paths []string) []Result
}

type options struct {
	chattrPath string
	run        runFunc
}

type Option func(*options)

// WithChattrPath overrides the chattr binary used by the chattr method.
func WithChattrPath(path string) Option {
	return func(o *options) {
		if path != "" {
			o.chattrPath = path
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{chattrPath: "chattr", run: runCommand}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// TimedOut reports whether any result failed because the helper timed out.
func TimedOut(results []Result) bool {
	for _, r := range results {
		if errors.Is(r.Err, ErrHelperTimeout) {
			return true
		}
	}
	return false
}

func each(ctx context.Context, paths []string, fn func(context.Context, string) error) []Result {
	results := make([]Result, 0, len(paths))
	for _, p := range paths {
		err := fn(ctx, p)
		if err != nil {
			err = fmt.Errorf("%s: %w", p, err)
		}
		results = append(results, Result{Path: p, Err: err})
	}
	return results
}
