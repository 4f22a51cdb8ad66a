//go:build unix

package resource

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// applyRlimits lowers OS resource limits to the configured ceilings. Limits
// are only ever tightened; a configured ceiling above the current hard limit
// is clamped to it.
func applyRlimits(config Config) error {
	if config.MaxMemoryBytes > 0 {
		if err := tighten(unix.RLIMIT_AS, config.MaxMemoryBytes); err != nil {
			return fmt.Errorf("failed to set address-space limit: %w", err)
		}
	}
	if config.MaxOpenFiles > 0 {
		if err := tighten(unix.RLIMIT_NOFILE, uint64(config.MaxOpenFiles)); err != nil {
			return fmt.Errorf("failed to set open-files limit: %w", err)
		}
	}
	return nil
}

// tighten lowers the soft limit for a resource to ceiling, bounded by the
// current hard limit.
func tighten(resource int, ceiling uint64) error {
	var current unix.Rlimit
	if err := unix.Getrlimit(resource, &current); err != nil {
		return err
	}

	limit := ceiling
	if current.Max != unix.RLIM_INFINITY && limit > current.Max {
		limit = current.Max
	}
	if current.Cur != unix.RLIM_INFINITY && limit >= current.Cur {
		return nil
	}

	return unix.Setrlimit(resource, &unix.Rlimit{Cur: limit, Max: current.Max})
}
