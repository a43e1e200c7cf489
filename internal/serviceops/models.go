// Package serviceops implements the service lifecycle manager: reconciling
// declared service configuration against observed process state, and
// supervising the child processes that back agent and MCP services.
package serviceops

import (
	"time"

	"github.com/orchestra-run/controlplane/internal/serviceconfig"
)

// DesiredState is the operator's declared intent for a service.
type DesiredState string

const (
	DesiredEnabled  DesiredState = "enabled"
	DesiredDisabled DesiredState = "disabled"
)

// RuntimeState is what was actually observed about a service's process.
type RuntimeState string

const (
	RuntimeRunning  RuntimeState = "running"
	RuntimeStarting RuntimeState = "starting"
	RuntimeStopped  RuntimeState = "stopped"
	RuntimeCrashed  RuntimeState = "crashed"
	RuntimeOrphaned RuntimeState = "orphaned"
)

// DeclaredService is the config-loader's view of one service (§4.1's output,
// consumed here for reconciliation).
type DeclaredService struct {
	Name    string
	Kind    serviceconfig.Kind
	Port    int
	Binary  string
	Args    []string
	Env     map[string]string
	Enabled bool
	DevOnly bool
}

// ObservedService is what the supervisor actually sees about a running
// process: a PID if one is tracked, and the last known status.
type ObservedService struct {
	Name      string
	PID       int
	Port      int
	Status    RuntimeState
	UpdatedAt time.Time
}

// VerifiedServiceState is the reconciled view returned by the state manager:
// a declared service merged with its observed runtime state.
type VerifiedServiceState struct {
	Name    string
	Kind    serviceconfig.Kind
	Desired DesiredState
	Runtime RuntimeState
	Port    int
	PID     *int
}

// NeedsAttention reports whether a verified state is out of sync with its
// declared intent: enabled but not running, or disabled but still running.
func (v VerifiedServiceState) NeedsAttention() bool {
	enabledButDown := v.Desired == DesiredEnabled &&
		(v.Runtime == RuntimeStopped || v.Runtime == RuntimeCrashed)
	disabledButUp := v.Desired == DesiredDisabled &&
		(v.Runtime == RuntimeRunning || v.Runtime == RuntimeStarting || v.Runtime == RuntimeOrphaned)
	return enabledButDown || disabledButUp
}
