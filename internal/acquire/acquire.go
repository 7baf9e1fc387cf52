// Package acquire implements the Endpoint Acquirer (§4.1): the bind race
// that elects exactly one broker per user per host over a shared unix
// domain socket path, with stale-endpoint cleanup and a bounded retry.
package acquire

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/socratic-shell/symposium-sub004/internal/symptom"
)

// ProbeTimeout bounds how long a probe connect waits before concluding the
// endpoint is stale rather than merely slow to accept.
const ProbeTimeout = 200 * time.Millisecond

// Result is returned by Acquire. Exactly one of Listener or NoLeader is
// meaningful: a non-nil Listener means this process is now the broker; a
// true NoLeader means another broker already owns the endpoint and the
// caller should connect as a peer instead.
type Result struct {
	Listener net.Listener
	NoLeader bool
}

// Acquire attempts to bind path as the broker's listening endpoint,
// following §4.1's algorithm: bind, and on failure probe-connect to tell a
// live broker apart from a stale socket file left by a crashed one. A
// stale socket is removed and the bind retried exactly once before giving
// up.
func Acquire(path string) (Result, error) {
	for attempt := 0; attempt < 2; attempt++ {
		ln, err := bind(path)
		if err == nil {
			if permErr := os.Chmod(path, 0o600); permErr != nil {
				ln.Close()
				return Result{}, symptom.Wrap(symptom.BindFailure, permErr, "restricting endpoint permissions")
			}
			return Result{Listener: ln}, nil
		}

		if !isAddrInUse(err) {
			return Result{}, symptom.Wrap(symptom.BindFailure, err, "binding endpoint")
		}

		if probeConnect(path) {
			return Result{NoLeader: true}, nil
		}

		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return Result{}, symptom.Wrap(symptom.BindFailure, rmErr, "removing stale endpoint")
		}
	}

	return Result{}, symptom.New(symptom.BindFailure, fmt.Sprintf("could not bind %s after stale-endpoint cleanup", path))
}

func bind(path string) (net.Listener, error) {
	return net.Listen("unix", path)
}

func isAddrInUse(err error) bool {
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return errors.Is(sysErr.Err, syscall.EADDRINUSE)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.As(opErr.Err, &sysErr) && errors.Is(sysErr.Err, syscall.EADDRINUSE)
	}
	return false
}

func probeConnect(path string) bool {
	conn, err := net.DialTimeout("unix", path, ProbeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
