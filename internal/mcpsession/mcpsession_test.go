package mcpsession

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchestra-run/controlplane/internal/ids"
	"github.com/orchestra-run/controlplane/internal/platform/logger"
)

type fakeLocal struct {
	sessions map[ids.SessionID]bool
	next     int
}

func newFakeLocal() *fakeLocal { return &fakeLocal{sessions: map[ids.SessionID]bool{}} }

func (f *fakeLocal) CreateSession(ctx context.Context) (ids.SessionID, error) {
	f.next++
	id := ids.SessionID(string(rune('a' + f.next)))
	f.sessions[id] = true
	return id, nil
}
func (f *fakeLocal) HasSession(id ids.SessionID) bool { return f.sessions[id] }
func (f *fakeLocal) CloseSession(id ids.SessionID) error {
	if !f.sessions[id] {
		return ErrSessionNotFound
	}
	delete(f.sessions, id)
	return nil
}
func (f *fakeLocal) Touch(id ids.SessionID) error { return nil }

type fakeStore struct {
	active map[ids.SessionID]bool
	failIs bool
}

func newFakeStore() *fakeStore { return &fakeStore{active: map[ids.SessionID]bool{}} }

func (f *fakeStore) Create(ctx context.Context, id ids.SessionID) error {
	f.active[id] = true
	return nil
}
func (f *fakeStore) Close(ctx context.Context, id ids.SessionID) error {
	f.active[id] = false
	return nil
}
func (f *fakeStore) UpdateActivity(ctx context.Context, id ids.SessionID) error { return nil }
func (f *fakeStore) IsActive(ctx context.Context, id ids.SessionID) (bool, error) {
	if f.failIs {
		return false, errors.New("db down")
	}
	return f.active[id], nil
}

func TestResume_LocalSessionPresent_ReturnsOK(t *testing.T) {
	local, store := newFakeLocal(), newFakeStore()
	m := New(local, store, logger.Default())

	id, err := m.CreateSession(context.Background())
	require.NoError(t, err)

	require.Equal(t, ResumeOK, m.Resume(context.Background(), id, ""))
}

func TestResume_ClosedLocallyButActiveInStore_NeedsReconnect(t *testing.T) {
	local, store := newFakeLocal(), newFakeStore()
	m := New(local, store, logger.Default())

	id, err := m.CreateSession(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.CloseSession(context.Background(), id))
	store.active[id] = true // DB row remains active despite the local close

	require.Equal(t, ResumeSessionNeedsReconn, m.Resume(context.Background(), id, ""))
}

func TestResume_UnknownEverywhere_SessionNotFound(t *testing.T) {
	local, store := newFakeLocal(), newFakeStore()
	m := New(local, store, logger.Default())

	require.Equal(t, ResumeSessionNotFound, m.Resume(context.Background(), ids.SessionID("ghost"), ""))
}

func TestCloseSession_PersistsCloseEvenWhenLocalCloseFails(t *testing.T) {
	local, store := newFakeLocal(), newFakeStore()
	m := New(local, store, logger.Default())

	store.active["ghost"] = true
	err := m.CloseSession(context.Background(), ids.SessionID("ghost"))
	require.NoError(t, err)
	require.False(t, store.active[ids.SessionID("ghost")])
}

func TestHasSession_FallsBackToStore(t *testing.T) {
	local, store := newFakeLocal(), newFakeStore()
	m := New(local, store, logger.Default())

	store.active[ids.SessionID("remote")] = true
	require.True(t, m.HasSession(context.Background(), ids.SessionID("remote")))
}
