package serviceops

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/orchestra-run/controlplane/internal/platform/logger"
	"github.com/orchestra-run/controlplane/internal/serviceconfig"
)

// ObservationSource reports the currently observed process state for
// supervised services. The process supervisor implements this directly; a
// stub implementation backs the state manager's tests.
type ObservationSource interface {
	Observe(ctx context.Context) ([]ObservedService, error)
}

// StateManager reconciles declared service configuration against observed
// process state. It holds no process-management logic of its own (that is
// the Supervisor's job) - it answers "what should be running, and does that
// match what is". Runtime state is never taken on the Supervisor's word
// alone: StateManager reads the persisted services table and independently
// re-verifies each row's PID and port against the OS, so a service this
// process instance never itself started (e.g. surviving a control-plane
// restart) is reconciled exactly as rigorously as one it spawned.
type StateManager struct {
	observations ObservationSource
	store        ServiceStateStore
	probe        LivenessProbe
	logger       *logger.Logger
}

// NewStateManager constructs a StateManager. store and probe may be nil,
// which falls back to trusting observations alone (used by tests that don't
// exercise cross-restart reconciliation).
func NewStateManager(observations ObservationSource, store ServiceStateStore, probe LivenessProbe, log *logger.Logger) *StateManager {
	return &StateManager{observations: observations, store: store, probe: probe, logger: log}
}

// Reconcile merges the declared service set with observed process state and
// returns one VerifiedServiceState per declared service, plus one per
// observed or persisted process with no matching declaration (marked
// RuntimeOrphaned).
func (m *StateManager) Reconcile(ctx context.Context, declared *serviceconfig.ServicesConfig) ([]VerifiedServiceState, error) {
	observed, err := m.observations.Observe(ctx)
	if err != nil {
		return nil, fmt.Errorf("observing service processes: %w", err)
	}
	byName := make(map[string]ObservedService, len(observed))
	for _, o := range observed {
		byName[o.Name] = o
	}

	persisted := make(map[string]PersistedServiceState)
	if m.store != nil {
		rows, err := m.store.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading persisted service state: %w", err)
		}
		for _, row := range rows {
			persisted[row.Name] = row
		}
	}

	var out []VerifiedServiceState

	for name, a := range declared.Agents {
		out = append(out, m.verify(name, serviceconfig.KindAgent, a.Port, a.Enabled, byName, persisted))
		delete(byName, name)
		delete(persisted, name)
	}
	for name, s := range declared.MCPServers {
		out = append(out, m.verify(name, serviceconfig.KindMCP, s.Port, s.Enabled, byName, persisted))
		delete(byName, name)
		delete(persisted, name)
	}

	// Anything left is running (per in-memory observation or the persisted
	// table) but never declared: an orphan. Union both sources since a
	// service this process instance didn't itself spawn only shows up in
	// the persisted table, never in the in-memory observation.
	orphanNames := make(map[string]struct{}, len(byName)+len(persisted))
	for name := range byName {
		orphanNames[name] = struct{}{}
	}
	for name := range persisted {
		orphanNames[name] = struct{}{}
	}
	for name := range orphanNames {
		out = append(out, m.orphanState(name, byName[name], persisted[name]))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// verify re-derives a declared service's runtime state from the persisted
// services row when one exists, independently re-checking PID liveness and
// port responsiveness rather than trusting the row's own status column or
// the Supervisor's in-memory echo of it. Falls back to the in-memory
// observation (or RuntimeStopped) when no persisted row or probe is
// available, preserving prior behavior for tests that don't wire a store.
func (m *StateManager) verify(
	name string,
	kind serviceconfig.Kind,
	port int,
	enabled bool,
	observed map[string]ObservedService,
	persisted map[string]PersistedServiceState,
) VerifiedServiceState {
	desired := DesiredDisabled
	if enabled {
		desired = DesiredEnabled
	}

	if row, ok := persisted[name]; ok && m.probe != nil {
		runtime := m.verifyPersisted(name, row)
		var pid *int
		if row.PID != 0 {
			p := row.PID
			pid = &p
		}
		return VerifiedServiceState{Name: name, Kind: kind, Desired: desired, Runtime: runtime, Port: port, PID: pid}
	}

	o, ok := observed[name]
	if !ok {
		return VerifiedServiceState{Name: name, Kind: kind, Desired: desired, Runtime: RuntimeStopped, Port: port}
	}

	runtime := o.Status
	if runtime == "" {
		runtime = RuntimeStopped
	}

	var pid *int
	if o.PID != 0 {
		p := o.PID
		pid = &p
	}

	return VerifiedServiceState{Name: name, Kind: kind, Desired: desired, Runtime: runtime, Port: port, PID: pid}
}

// verifyPersisted distinguishes "row says running, PID alive, port
// responding" (truly Running) from "PID alive, port silent" (Starting or
// stuck) from "PID gone" (Crashed), independent of whatever status string
// the row itself carries.
func (m *StateManager) verifyPersisted(name string, row PersistedServiceState) RuntimeState {
	if row.Status == RuntimeStopped {
		return RuntimeStopped
	}

	if !m.probe.PIDAlive(row.PID) {
		m.logger.Warn("service pid no longer alive, marking crashed",
			zap.String("service", name), zap.Int("pid", row.PID))
		return RuntimeCrashed
	}
	if !m.probe.PortResponds(row.Port) {
		return RuntimeStarting
	}
	return RuntimeRunning
}

// orphanState builds the VerifiedServiceState for a process that is running
// (per either source) but matches no declared service.
func (m *StateManager) orphanState(name string, observed ObservedService, persisted PersistedServiceState) VerifiedServiceState {
	pid := observed.PID
	port := observed.Port
	if pid == 0 {
		pid = persisted.PID
	}
	if port == 0 {
		port = persisted.Port
	}

	m.logger.Warn("observed process with no matching declared service",
		zap.String("service", name), zap.Int("pid", pid), zap.Int("port", port))

	var pidPtr *int
	if pid != 0 {
		pidPtr = &pid
	}
	return VerifiedServiceState{
		Name:    name,
		Desired: DesiredDisabled,
		Runtime: RuntimeOrphaned,
		Port:    port,
		PID:     pidPtr,
	}
}
