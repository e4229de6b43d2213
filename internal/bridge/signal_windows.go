//go:build windows

package bridge

import "os"

// syscallTerm on Windows falls back to os.Interrupt; Go's exec.Cmd on
// Windows cannot deliver SIGTERM, so graceful shutdown here relies on the
// kill-grace timeout promoting to a hard Kill.
func syscallTerm() os.Signal {
	return os.Interrupt
}
