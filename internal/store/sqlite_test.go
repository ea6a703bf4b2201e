// ABOUTME: Tests for the SQLite store against a temp-dir database file.
// ABOUTME: Covers spec ownership, sessions, user variables, and the graph tier.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agency-gateway/internal/agency"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storeSpec(id string) *agency.Spec {
	return &agency.Spec{
		ID:        id,
		Name:      "Test Agency",
		MainAgent: "root",
		Agents: []agency.AgentDef{
			{Role: "root", Instructions: "Coordinate."},
			{Role: "helper", Instructions: "Assist."},
		},
		Edges: []agency.Edge{{Sender: "root", Receiver: "helper"}},
	}
}

func TestSpecOwnership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSpec(ctx, "user1", storeSpec("agency1")))

	loaded, err := s.LoadSpec(ctx, "agency1", "user1")
	require.NoError(t, err)
	assert.Equal(t, "agency1", loaded.ID)
	assert.Len(t, loaded.Agents, 2)

	// Another user cannot reach it by id.
	_, err = s.LoadSpec(ctx, "agency1", "user2")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.LoadSpec(ctx, "missing", "user1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSpecTemplateReadableByEveryone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSpec(ctx, "", storeSpec("template1")))

	for _, userID := range []string{"user1", "user2"} {
		loaded, err := s.LoadSpec(ctx, "template1", userID)
		require.NoError(t, err)
		assert.Equal(t, "template1", loaded.ID)
	}
}

func TestSaveSpecUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSpec(ctx, "user1", storeSpec("agency1")))

	updated := storeSpec("agency1")
	updated.Agents[0].RemoteID = "asst_1"
	require.NoError(t, s.SaveSpec(ctx, "user1", updated))

	loaded, err := s.LoadSpec(ctx, "agency1", "user1")
	require.NoError(t, err)
	assert.Equal(t, "asst_1", loaded.Agent("root").RemoteID)
}

func TestSaveSpecRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	spec := storeSpec("agency1")
	spec.Agents = nil
	assert.Error(t, s.SaveSpec(context.Background(), "user1", spec))
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	sess := &Session{
		ID:           "thread_main",
		UserID:       "user1",
		AgencyID:     "agency1",
		MainThreadID: "thread_main",
		ThreadIDs:    map[string]map[string]string{"root": {"helper": "thread_edge"}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.SaveSession(ctx, sess))

	loaded, err := s.GetSession(ctx, "thread_main")
	require.NoError(t, err)
	assert.Equal(t, "user1", loaded.UserID)
	assert.Equal(t, "agency1", loaded.AgencyID)
	assert.Equal(t, "thread_edge", loaded.ThreadIDs["root"]["helper"])

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTouchSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Now().UTC().Add(-time.Hour)
	sess := &Session{
		ID:           "thread_main",
		UserID:       "user1",
		AgencyID:     "agency1",
		MainThreadID: "thread_main",
		ThreadIDs:    map[string]map[string]string{},
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	require.NoError(t, s.SaveSession(ctx, sess))
	require.NoError(t, s.TouchSession(ctx, "thread_main"))

	loaded, err := s.GetSession(ctx, "thread_main")
	require.NoError(t, err)
	assert.True(t, loaded.UpdatedAt.After(created))

	assert.ErrorIs(t, s.TouchSession(ctx, "missing"), ErrNotFound)
}

func TestUserVariables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetUserVariable(ctx, "user1", "OPENAI_API_KEY")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetUserVariable(ctx, "user1", "OPENAI_API_KEY", "sk-one"))
	require.NoError(t, s.SetUserVariable(ctx, "user1", "OPENAI_API_KEY", "sk-two"))

	value, err := s.GetUserVariable(ctx, "user1", "OPENAI_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-two", value)

	// Scoped per user.
	_, err = s.GetUserVariable(ctx, "user2", "OPENAI_API_KEY")
	assert.ErrorIs(t, err, ErrNotFound)
}

func storedGraph() *agency.StoredGraph {
	return &agency.StoredGraph{
		AgencyID: "agency1",
		Agents: []agency.StoredAgent{
			{Role: "root", Name: "root (agency1)", RemoteID: "asst_1"},
			{Role: "helper", Name: "helper (agency1)", RemoteID: "asst_2"},
		},
		Threads: []agency.StoredThread{
			{Sender: "root", Receiver: "helper", RemoteID: "thread_1"},
		},
		Main: agency.StoredThread{Sender: agency.UserRole, Receiver: "root", RemoteID: "thread_2"},
	}
}

func TestGraphCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveGraph(ctx, "agency1", storedGraph(), time.Now().Add(time.Hour)))

	g, ok, err := s.LoadGraph(ctx, "agency1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "agency1", g.AgencyID)
	assert.Equal(t, "asst_1", g.Agents[0].RemoteID)
	assert.Equal(t, "thread_2", g.Main.RemoteID)

	_, ok, err = s.LoadGraph(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGraphCacheExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveGraph(ctx, "agency1", storedGraph(), time.Now().Add(-time.Minute)))

	_, ok, err := s.LoadGraph(ctx, "agency1")
	require.NoError(t, err)
	assert.False(t, ok, "expired graphs are treated as misses")

	// The first read deletes the expired row.
	var count int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM graph_cache WHERE key = ?`, "agency1").Scan(&count))
	assert.Zero(t, count)
}

func TestGraphCacheDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveGraph(ctx, "agency1", storedGraph(), time.Now().Add(time.Hour)))
	require.NoError(t, s.DeleteGraph(ctx, "agency1"))

	_, ok, err := s.LoadGraph(ctx, "agency1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.DeleteGraph(ctx, "missing"))
}
