//go:build !darwin && !linux

package storage

// filesystemType reports an unknown type, which is treated as local.
func filesystemType(string) (string, error) {
	return "unknown", nil
}
