package serviceops

import (
	"context"
	"time"

	"github.com/orchestra-run/controlplane/internal/common/database"
)

// PersistedServiceState is one row of the services table: the supervisor's
// last known process state for a service, independent of whatever this
// process instance currently has in memory.
type PersistedServiceState struct {
	Name      string
	Status    RuntimeState
	PID       int
	Port      int
	UpdatedAt time.Time
}

// ServiceStateStore persists supervised process state so reconciliation can
// independently re-verify it rather than only trusting the Supervisor's own
// in-memory view of processes it spawned this run.
type ServiceStateStore interface {
	Upsert(ctx context.Context, name string, status RuntimeState, pid, port int) error
	All(ctx context.Context) ([]PersistedServiceState, error)
}

// PostgresServiceStateStore is the ServiceStateStore backed by a `services`
// table (name, status, pid, port), written by the Supervisor on start/stop/
// exit and read back by the StateManager during reconciliation.
type PostgresServiceStateStore struct {
	db *database.DB
}

// NewPostgresServiceStateStore constructs a PostgresServiceStateStore.
func NewPostgresServiceStateStore(db *database.DB) *PostgresServiceStateStore {
	return &PostgresServiceStateStore{db: db}
}

// Upsert implements ServiceStateStore.
func (s *PostgresServiceStateStore) Upsert(ctx context.Context, name string, status RuntimeState, pid, port int) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO services (name, status, pid, port, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (name) DO UPDATE SET status = $2, pid = $3, port = $4, updated_at = now()`,
		name, string(status), pid, port)
	return err
}

// All implements ServiceStateStore.
func (s *PostgresServiceStateStore) All(ctx context.Context) ([]PersistedServiceState, error) {
	rows, err := s.db.Query(ctx, `SELECT name, status, pid, port, updated_at FROM services`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PersistedServiceState
	for rows.Next() {
		var row PersistedServiceState
		var status string
		if err := rows.Scan(&row.Name, &status, &row.PID, &row.Port, &row.UpdatedAt); err != nil {
			return nil, err
		}
		row.Status = RuntimeState(status)
		out = append(out, row)
	}
	return out, rows.Err()
}
