//go:build windows

package state

import (
	"os"

	"golang.org/x/sys/windows"
)

// lockState holds an exclusive byte-range lock on lock so that a CLI command
// and a running server never interleave writes to the state file.
func lockState(lock *os.File) (release func(), err error) {
	h := windows.Handle(lock.Fd())
	var ol windows.Overlapped
	if err := windows.LockFileEx(h, windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, &ol); err != nil {
		return nil, err
	}
	return func() {
		var ol windows.Overlapped
		_ = windows.UnlockFileEx(h, 0, 1, 0, &ol)
	}, nil
}
