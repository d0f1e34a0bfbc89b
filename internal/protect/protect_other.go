//go:build !linux && !windows && !darwin && !freebsd && !netbsd && !openbsd

package protect

func New(method string, opts ...Option) (Backend, error) {
	return nil, ErrUnsupported
}
