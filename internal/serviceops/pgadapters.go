package serviceops

import (
	"context"
	"time"

	"github.com/orchestra-run/controlplane/internal/common/database"
	"github.com/orchestra-run/controlplane/internal/serviceops/scheduler"
)

// SessionActivityStore adapts the session/ban tables to the scheduler's
// SuspiciousIPSource and BanStore contracts, and the execution log table to
// its LogPruner contract, so the maintenance jobs can run against Postgres
// without the scheduler package taking a database dependency directly.
type SessionActivityStore struct {
	db *database.DB
}

// NewSessionActivityStore constructs a SessionActivityStore.
func NewSessionActivityStore(db *database.DB) *SessionActivityStore {
	return &SessionActivityStore{db: db}
}

// RecentIPActivity implements scheduler.SuspiciousIPSource.
func (s *SessionActivityStore) RecentIPActivity(ctx context.Context, since time.Time) ([]scheduler.IPActivity, error) {
	rows, err := s.db.Query(ctx, `
		SELECT remote_ip,
			COUNT(*) AS session_count,
			COUNT(*) FILTER (WHERE is_scanner_signature) AS scanner_hits,
			COUNT(*) FILTER (WHERE is_high_risk_country) AS high_risk_hits
		FROM user_sessions
		WHERE created_at >= $1
		GROUP BY remote_ip`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []scheduler.IPActivity
	for rows.Next() {
		var a scheduler.IPActivity
		if err := rows.Scan(&a.IP, &a.SessionCount, &a.ScannerHits, &a.HighRiskHits); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// IsBanned implements scheduler.BanStore.
func (s *SessionActivityStore) IsBanned(ctx context.Context, ip string) (bool, error) {
	var banned bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM ip_bans WHERE ip = $1 AND banned_until > now())`, ip).Scan(&banned)
	return banned, err
}

// Ban implements scheduler.BanStore.
func (s *SessionActivityStore) Ban(ctx context.Context, ip, reason, source string, until time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ip_bans (ip, reason, source, banned_until)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ip) DO UPDATE SET reason = $2, source = $3, banned_until = $4`,
		ip, reason, source, until)
	return err
}

// PruneLogsBefore implements scheduler.LogPruner.
func (s *SessionActivityStore) PruneLogsBefore(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM execution_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
