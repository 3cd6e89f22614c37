//go:build !windows

package state

import (
	"os"
	"syscall"
)

// lockState holds an exclusive flock on lock so that a CLI command and a
// running server never interleave writes to the state file. It blocks until
// the lock is granted; release drops it.
func lockState(lock *os.File) (release func(), err error) {
	fd := int(lock.Fd())
	if err := syscall.Flock(fd, syscall.LOCK_EX); err != nil {
		return nil, err
	}
	return func() { _ = syscall.Flock(fd, syscall.LOCK_UN) }, nil
}
