package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orchestra-run/controlplane/internal/platform/logger"
)

// Thresholds used by the malicious IP blacklist job, carried over from the
// analytics rules the original scheduler enforced.
const (
	HighRequestThreshold    = 100
	ScannerBanThreshold     = 3
	HighRiskCountryThreshold = 5
	BanDurationDays         = 14
)

// BanSource is recorded against every row the job inserts, so bans it
// produced can be told apart from manual ones.
const BanSource = "malicious_ip_blacklist"

// IPActivity summarizes one remote IP's recent session activity, as
// aggregated from user_sessions.
type IPActivity struct {
	IP            string
	SessionCount  int
	ScannerHits   int
	HighRiskHits  int
}

// IsSuspicious reports whether a's activity crosses any of the ban
// thresholds: too many sessions, too many scanner-signature hits, or too
// many sessions from high-risk countries.
func (a IPActivity) IsSuspicious() bool {
	return a.SessionCount > HighRequestThreshold ||
		a.ScannerHits >= ScannerBanThreshold ||
		a.HighRiskHits >= HighRiskCountryThreshold
}

// SuspiciousIPSource reports recent session activity, grouped by IP, for
// the job to screen against the ban thresholds.
type SuspiciousIPSource interface {
	RecentIPActivity(ctx context.Context, since time.Time) ([]IPActivity, error)
}

// BanStore records and checks IP bans.
type BanStore interface {
	IsBanned(ctx context.Context, ip string) (bool, error)
	Ban(ctx context.Context, ip, reason, source string, until time.Time) error
}

// MaliciousIPBlacklistJob screens recent session activity for suspicious IPs
// and bans them for BanDurationDays. It is idempotent: an IP already banned
// is left untouched and counted as skipped.
type MaliciousIPBlacklistJob struct {
	activity SuspiciousIPSource
	bans     BanStore
	window   time.Duration
	logger   *logger.Logger
	now      func() time.Time
}

// NewMaliciousIPBlacklistJob constructs the job. window is how far back to
// look for session activity (e.g. 24h).
func NewMaliciousIPBlacklistJob(activity SuspiciousIPSource, bans BanStore, window time.Duration, log *logger.Logger) *MaliciousIPBlacklistJob {
	return &MaliciousIPBlacklistJob{activity: activity, bans: bans, window: window, logger: log, now: time.Now}
}

func (j *MaliciousIPBlacklistJob) Name() string { return "malicious_ip_blacklist" }

func (j *MaliciousIPBlacklistJob) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	stats := Stats{}

	since := j.now().Add(-j.window)
	activity, err := j.activity.RecentIPActivity(ctx, since)
	if err != nil {
		return Result{Success: false, Duration: time.Since(start)}, err
	}

	for _, a := range activity {
		if !a.IsSuspicious() {
			continue
		}

		alreadyBanned, err := j.bans.IsBanned(ctx, a.IP)
		if err != nil {
			j.logger.Error("failed to check existing ban", zap.String("ip", a.IP), zap.Error(err))
			stats.Skipped++
			continue
		}
		if alreadyBanned {
			stats.Skipped++
			continue
		}

		until := j.now().Add(BanDurationDays * 24 * time.Hour)
		reason := banReason(a)
		if err := j.bans.Ban(ctx, a.IP, reason, BanSource, until); err != nil {
			j.logger.Error("failed to ban ip", zap.String("ip", a.IP), zap.Error(err))
			stats.Skipped++
			continue
		}

		j.logger.Warn("banned suspicious ip",
			zap.String("ip", a.IP),
			zap.Int("session_count", a.SessionCount),
			zap.String("reason", reason),
			zap.Time("until", until))
		stats.Produced++
	}

	return Result{Success: true, Stats: stats, Duration: time.Since(start)}, nil
}

func banReason(a IPActivity) string {
	switch {
	case a.SessionCount > HighRequestThreshold:
		return "excessive_session_count"
	case a.ScannerHits >= ScannerBanThreshold:
		return "scanner_signature"
	case a.HighRiskHits >= HighRiskCountryThreshold:
		return "high_risk_country_volume"
	default:
		return "suspicious_activity"
	}
}
