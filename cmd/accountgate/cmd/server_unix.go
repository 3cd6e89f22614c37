//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// shutdownSignals stop `accountgate serve` cleanly: the refresher drains and
// the HTTP server finishes in-flight requests.
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// serverRunning reports whether the pid recorded by serve still exists.
func serverRunning(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

// askServerToStop is what `accountgate stop` sends; serve treats it like
// Ctrl-C.
func askServerToStop(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
