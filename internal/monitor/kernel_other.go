//go:build !linux

package monitor

func openKernel() (kernel, error) {
	return nil, ErrUnsupported
}
