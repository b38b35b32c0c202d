package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/agora-labs/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "agora.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_ProfileRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := domain.Profile{
		ID:            "jesus",
		Name:          "Jesus of Nazareth",
		Tone:          "Compassionate",
		SamplePrompts: []string{"Love thy neighbor", "Forgiveness is key"},
	}
	require.NoError(t, s.UpsertProfile(ctx, p))

	got, err := s.GetProfile(ctx, "jesus")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	p.Tone = "Patient"
	require.NoError(t, s.UpsertProfile(ctx, p))
	got, err = s.GetProfile(ctx, "jesus")
	require.NoError(t, err)
	assert.Equal(t, "Patient", got.Tone)

	_, err = s.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListProfilesOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"peter", "andrew", "john"} {
		require.NoError(t, s.UpsertProfile(ctx, domain.Profile{
			ID: id, Name: id, Tone: "calm", SamplePrompts: []string{"hi"},
		}))
	}

	profiles, err := s.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, "andrew", profiles[0].ID)
	assert.Equal(t, "john", profiles[1].ID)
	assert.Equal(t, "peter", profiles[2].ID)
}

func TestSQLiteStore_SessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.UnixMilli(time.Now().UnixMilli())

	sess := &domain.Session{
		ID: "s1",
		Agents: []domain.Profile{
			{ID: "jesus", Name: "Jesus", Tone: "Compassionate", SamplePrompts: []string{"Love"}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateSession(ctx, sess))
	assert.ErrorIs(t, s.CreateSession(ctx, sess), ErrAlreadyExists)

	entries := []domain.Entry{
		{ID: "e1", Role: domain.RoleUser, Content: "Hello", CreatedAt: now},
		{ID: "e2", Role: domain.RoleAgent, AgentID: "jesus", Content: "Peace", CreatedAt: now},
	}
	later := now.Add(time.Second)
	require.NoError(t, s.AppendEntries(ctx, "s1", entries, later))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sess.Agents, got.Agents)
	assert.Equal(t, entries, got.History)
	assert.Equal(t, later, got.UpdatedAt)

	require.NoError(t, s.DeleteSession(ctx, "s1"))
	_, err = s.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_AppendToMissingSession(t *testing.T) {
	s := newTestStore(t)

	err := s.AppendEntries(context.Background(), "nope", []domain.Entry{
		{ID: "e1", Role: domain.RoleUser, Content: "x", CreatedAt: time.Now()},
	}, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_CleanupExpiredSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)
	fresh := time.Now()

	require.NoError(t, s.CreateSession(ctx, &domain.Session{ID: "old", CreatedAt: old, UpdatedAt: old}))
	require.NoError(t, s.CreateSession(ctx, &domain.Session{ID: "fresh", CreatedAt: fresh, UpdatedAt: fresh}))
	require.NoError(t, s.AppendEntries(ctx, "old", []domain.Entry{
		{ID: "e1", Role: domain.RoleUser, Content: "x", CreatedAt: old},
	}, old))

	deleted, err := s.CleanupExpiredSessions(ctx, time.Now().Add(-time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = s.GetSession(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetSession(ctx, "fresh")
	assert.NoError(t, err)
}

func TestSQLiteStore_CleanupSkipsKeptSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)

	for _, id := range []string{"live", "stale"} {
		require.NoError(t, s.CreateSession(ctx, &domain.Session{ID: id, CreatedAt: old, UpdatedAt: old}))
		require.NoError(t, s.AppendEntries(ctx, id, []domain.Entry{
			{ID: id + "-e1", Role: domain.RoleUser, Content: "x", CreatedAt: old},
		}, old))
	}

	deleted, err := s.CleanupExpiredSessions(ctx, time.Now().Add(-time.Hour), []string{"live"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	live, err := s.GetSession(ctx, "live")
	require.NoError(t, err)
	assert.Len(t, live.History, 1)
	_, err = s.GetSession(ctx, "stale")
	assert.ErrorIs(t, err, ErrNotFound)
}
