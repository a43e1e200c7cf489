package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orchestra-run/controlplane/internal/platform/logger"
)

type fakeIPSource struct {
	activity []IPActivity
}

func (f fakeIPSource) RecentIPActivity(ctx context.Context, since time.Time) ([]IPActivity, error) {
	return f.activity, nil
}

type fakeBanStore struct {
	banned map[string]bool
	bans   []string
}

func newFakeBanStore() *fakeBanStore {
	return &fakeBanStore{banned: make(map[string]bool)}
}

func (f *fakeBanStore) IsBanned(ctx context.Context, ip string) (bool, error) {
	return f.banned[ip], nil
}

func (f *fakeBanStore) Ban(ctx context.Context, ip, reason, source string, until time.Time) error {
	f.banned[ip] = true
	f.bans = append(f.bans, ip)
	return nil
}

func TestMaliciousIPBlacklistJob_BansHighSessionCountIP(t *testing.T) {
	source := fakeIPSource{activity: []IPActivity{{IP: "1.2.3.4", SessionCount: 150}}}
	bans := newFakeBanStore()
	job := NewMaliciousIPBlacklistJob(source, bans, 24*time.Hour, logger.Default())

	result, err := job.Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, result.Stats.Produced)
	require.True(t, bans.banned["1.2.3.4"])
}

func TestMaliciousIPBlacklistJob_SkipsAlreadyBanned(t *testing.T) {
	source := fakeIPSource{activity: []IPActivity{{IP: "1.2.3.4", SessionCount: 150}}}
	bans := newFakeBanStore()
	bans.banned["1.2.3.4"] = true
	job := NewMaliciousIPBlacklistJob(source, bans, 24*time.Hour, logger.Default())

	result, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.Stats.Produced)
	require.Equal(t, 1, result.Stats.Skipped)
}

func TestMaliciousIPBlacklistJob_IgnoresBenignActivity(t *testing.T) {
	source := fakeIPSource{activity: []IPActivity{{IP: "5.6.7.8", SessionCount: 3}}}
	bans := newFakeBanStore()
	job := NewMaliciousIPBlacklistJob(source, bans, 24*time.Hour, logger.Default())

	result, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.Stats.Produced)
	require.Empty(t, bans.bans)
}
