//go:build !windows

package systools

func Disable() error {
	return ErrUnsupported
}

func Enable() error {
	return ErrUnsupported
}
