package serviceops

import (
	"fmt"
	"net"
	"syscall"
	"time"
)

// portProbeTimeout bounds how long reconciliation waits for a TCP dial
// against a declared port before treating it as unresponsive.
const portProbeTimeout = 500 * time.Millisecond

// LivenessProbe independently re-verifies a persisted service row against
// the operating system, rather than trusting the row (or the Supervisor's
// in-memory echo of it) at face value. This is what lets reconciliation
// distinguish "row says running, pid alive, port silent" (Starting or stuck)
// from "pid no longer exists" (Crashed).
type LivenessProbe interface {
	PIDAlive(pid int) bool
	PortResponds(port int) bool
}

// osProbe implements LivenessProbe against the real OS: a signal-0 kill to
// check the PID still exists, and a bounded TCP dial to check the port
// accepts connections.
type osProbe struct{}

// NewOSLivenessProbe returns the LivenessProbe used outside of tests.
func NewOSLivenessProbe() LivenessProbe { return osProbe{} }

// PIDAlive reports whether pid names a live process, via the classic
// signal-0 trick: sending signal 0 performs all permission/existence checks
// without actually delivering a signal.
func (osProbe) PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	// ESRCH means no such process; EPERM means it exists but we can't signal
	// it (e.g. owned by another user) - still alive for our purposes.
	return err == syscall.EPERM
}

// PortResponds reports whether a TCP connection to localhost:port succeeds
// within portProbeTimeout.
func (osProbe) PortResponds(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), portProbeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
