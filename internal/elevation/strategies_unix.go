//go:build !windows

package elevation

// DefaultStrategies returns pkexec with sudo as fallback.
func DefaultStrategies(helperPath string) (preferred, fallback Strategy) {
	return NewPolkit(helperPath), NewSudo(helperPath)
}
