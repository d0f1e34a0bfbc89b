package monitor

import (
	"fmt"
	"os"

	"github.com/gobwas/glob"
)

// Exemptions matches the executable of the process behind an event. Opens by
// a matching executable are allowed without asking the decision client.
type Exemptions struct {
	patterns []string
	globs    []glob.Glob
}

// CompileExemptions compiles path globs such as "/usr/bin/fadcrypt*" or
// "/opt/**/backup". '*' stops at '/', '**' does not.
func CompileExemptions(patterns []string) (*Exemptions, error) {
	e := &Exemptions{patterns: patterns}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("exemption %q: %w", p, err)
		}
		e.globs = append(e.globs, g)
	}
	return e, nil
}

func (e *Exemptions) Empty() bool {
	return e == nil || len(e.globs) == 0
}

// Match returns the pattern exe matched, if any.
func (e *Exemptions) Match(exe string) (string, bool) {
	if e == nil {
		return "", false
	}
	for i, g := range e.globs {
		if g.Match(exe) {
			return e.patterns[i], true
		}
	}
	return "", false
}

func processExe(pid int32) (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
}
