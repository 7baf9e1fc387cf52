//go:build unix

package main

import (
	"os/exec"
	"syscall"
)

// setDetached puts proc in its own session so it outlives the Bridge that
// spawned it, the way a daemonized process normally detaches from its
// launching shell.
func setDetached(proc *exec.Cmd) {
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
