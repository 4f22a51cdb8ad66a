//go:build !unix

package resource

// applyRlimits is a no-op on platforms without rlimit support.
func applyRlimits(Config) error {
	return nil
}
