// Package memlimit sets GOMEMLIMIT from the cgroup limit, or from system
// memory when the process is not confined. Import it for its side effect.
package memlimit

import (
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
)

const ratio = 0.9

func init() {
	_, _ = memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(ratio),
		memlimit.WithProvider(
			memlimit.ApplyFallback(
				memlimit.FromCgroup,
				memlimit.FromSystem,
			),
		),
		memlimit.WithRefreshInterval(1*time.Minute),
	)
}
