//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// stillActive is the exit code Windows reports for a live process.
const stillActive = 259

// shutdownSignals stop `accountgate serve` cleanly. Only Ctrl-C is
// delivered on Windows.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// serverRunning reports whether the pid recorded by serve still exists.
func serverRunning(proc *os.Process) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h) //nolint:errcheck

	var code uint32
	return windows.GetExitCodeProcess(h, &code) == nil && code == stillActive
}

// askServerToStop terminates the server. A console process cannot be sent
// Ctrl-C from outside its console group, so `accountgate stop` kills it and
// the persisted state file stays consistent through its own locking.
func askServerToStop(proc *os.Process) error {
	return proc.Kill()
}
