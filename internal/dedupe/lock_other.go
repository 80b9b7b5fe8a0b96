//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package dedupe

import (
	"fmt"
	"os"
)

// Advisory locking is only implemented for unix; elsewhere the lock file is
// created but not held exclusively.
func lockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}

func unlockFile(f *os.File) error {
	return f.Close()
}
