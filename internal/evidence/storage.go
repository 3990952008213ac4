package evidence

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FreeSpace returns the free bytes available on the filesystem holding the
// evidence directory.
func (s *Store) FreeSpace() (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(s.evidenceDir, &stat); err != nil {
		return 0, fmt.Errorf("statfs %q: %w", s.evidenceDir, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// StorageLow reports whether free space has dropped below thresholdBytes.
func (s *Store) StorageLow(thresholdBytes uint64) (bool, error) {
	free, err := s.FreeSpace()
	if err != nil {
		return false, err
	}
	return free < thresholdBytes, nil
}
