// Package mcpsession wraps an in-memory MCP protocol session manager with a
// persistent session table, so a client can resume after the in-memory
// state is lost (a server restart) as long as the database still marks the
// session active.
package mcpsession

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/orchestra-run/controlplane/internal/ids"
	"github.com/orchestra-run/controlplane/internal/platform/logger"
)

// ResumeOutcome is the result of a resume request, distinguishing a session
// the client should reinitialize (SessionNeedsReconnect) from one that never
// existed at all (SessionNotFound) — the distinction matters to a client
// deciding whether to retry or give up.
type ResumeOutcome string

const (
	ResumeOK                 ResumeOutcome = "ok"
	ResumeSessionNotFound    ResumeOutcome = "session_not_found"
	ResumeSessionNeedsReconn ResumeOutcome = "session_needs_reconnect"
)

// ErrSessionNotFound is returned by LocalManager methods when id is unknown
// locally; it is not itself an application error — the Manager decides what
// it means by also consulting the persistent store.
var ErrSessionNotFound = errors.New("mcpsession: session not found locally")

// LocalManager is the in-process, non-persistent session manager (holds
// live transports/streams). It is intentionally narrow: everything
// persistence-related is the Manager's job, not the local manager's.
type LocalManager interface {
	CreateSession(ctx context.Context) (ids.SessionID, error)
	HasSession(id ids.SessionID) bool
	CloseSession(id ids.SessionID) error
	Touch(id ids.SessionID) error
}

// Store is the persistent session record: a best-effort mirror of the local
// manager's state, consulted only when the local manager doesn't have the
// answer (a session created on another process, or before a restart).
type Store interface {
	Create(ctx context.Context, id ids.SessionID) error
	Close(ctx context.Context, id ids.SessionID) error
	UpdateActivity(ctx context.Context, id ids.SessionID) error
	IsActive(ctx context.Context, id ids.SessionID) (bool, error)
}

// Manager is the MCP Session Manager: it delegates to a LocalManager and
// mirrors every mutation to a Store best-effort, so a database outage never
// blocks an MCP session from working locally.
type Manager struct {
	local  LocalManager
	store  Store
	logger *logger.Logger
}

// New constructs a Manager. store may be nil, in which case persistence and
// resumability are disabled and the manager behaves like a bare local
// session manager.
func New(local LocalManager, store Store, log *logger.Logger) *Manager {
	return &Manager{local: local, store: store, logger: log}
}

// CreateSession creates a session locally, then persists it best-effort:
// a database failure here is logged, not surfaced, since the session is
// already usable locally.
func (m *Manager) CreateSession(ctx context.Context) (ids.SessionID, error) {
	id, err := m.local.CreateSession(ctx)
	if err != nil {
		return "", fmt.Errorf("mcpsession: creating local session: %w", err)
	}
	m.persistCreate(ctx, id)
	return id, nil
}

// Touch records activity on id, best-effort against the store.
func (m *Manager) Touch(ctx context.Context, id ids.SessionID) error {
	if err := m.local.Touch(id); err != nil {
		return fmt.Errorf("mcpsession: touching local session: %w", err)
	}
	m.updateActivity(ctx, id)
	return nil
}

// HasSession reports whether id is known either locally or, failing that,
// active in the persistent store.
func (m *Manager) HasSession(ctx context.Context, id ids.SessionID) bool {
	if m.local.HasSession(id) {
		return true
	}
	if m.store == nil {
		return false
	}
	active, err := m.store.IsActive(ctx, id)
	if err != nil {
		m.logger.Warn("mcpsession: checking persisted session", zap.String("session_id", string(id)), zap.Error(err))
		return false
	}
	return active
}

// Resume answers a client's reconnect attempt. lastEventID is accepted for
// parity with the protocol's resume contract but is otherwise opaque to the
// manager; a session-aware local manager would use it to replay missed
// events.
func (m *Manager) Resume(ctx context.Context, id ids.SessionID, lastEventID string) ResumeOutcome {
	if m.local.HasSession(id) {
		return ResumeOK
	}
	if m.store == nil {
		return ResumeSessionNotFound
	}
	active, err := m.store.IsActive(ctx, id)
	if err != nil {
		m.logger.Warn("mcpsession: checking persisted session for resume", zap.String("session_id", string(id)), zap.Error(err))
		return ResumeSessionNotFound
	}
	if active {
		return ResumeSessionNeedsReconn
	}
	return ResumeSessionNotFound
}

// CloseSession closes id locally and persists the close unconditionally,
// even if the local close errored (e.g. the session was already gone) —
// the local error is logged and ignored, not propagated, so a session can
// never get stuck "active" in the store because a local close failed to
// find it.
func (m *Manager) CloseSession(ctx context.Context, id ids.SessionID) error {
	if err := m.local.CloseSession(id); err != nil {
		m.logger.Debug("mcpsession: local close reported an error, persisting close anyway", zap.String("session_id", string(id)), zap.Error(err))
	}
	m.persistClose(ctx, id)
	return nil
}

func (m *Manager) persistCreate(ctx context.Context, id ids.SessionID) {
	if m.store == nil {
		return
	}
	if err := m.store.Create(ctx, id); err != nil {
		m.logger.Warn("mcpsession: failed to persist session creation", zap.String("session_id", string(id)), zap.Error(err))
	}
}

func (m *Manager) persistClose(ctx context.Context, id ids.SessionID) {
	if m.store == nil {
		return
	}
	if err := m.store.Close(ctx, id); err != nil {
		m.logger.Warn("mcpsession: failed to persist session close", zap.String("session_id", string(id)), zap.Error(err))
	}
}

func (m *Manager) updateActivity(ctx context.Context, id ids.SessionID) {
	if m.store == nil {
		return
	}
	if err := m.store.UpdateActivity(ctx, id); err != nil {
		m.logger.Debug("mcpsession: failed to update session activity", zap.String("session_id", string(id)), zap.Error(err))
	}
}
