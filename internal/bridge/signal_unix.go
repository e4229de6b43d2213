//go:build !windows

package bridge

import "syscall"

// syscallTerm returns the signal used to ask a provider process to exit
// gracefully before the kill grace period elapses.
func syscallTerm() syscall.Signal {
	return syscall.SIGTERM
}
