// ABOUTME: Tests for session creation, resolution, and thread pinning.
// ABOUTME: Uses an in-memory store and a counting fake client.

package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agency-gateway/internal/agency"
	"github.com/2389/agency-gateway/internal/store"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*store.Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*store.Session)}
}

func (m *memStore) SaveSession(ctx context.Context, sess *store.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *memStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *memStore) TouchSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

type fakeClient struct {
	threads atomic.Int64
}

func (f *fakeClient) CreateAssistant(ctx context.Context, name, instructions string, tools []string) (string, error) {
	return "asst_1", nil
}

func (f *fakeClient) CreateThread(ctx context.Context) (string, error) {
	return fmt.Sprintf("thread_%d", f.threads.Add(1)), nil
}

func (f *fakeClient) StreamRun(ctx context.Context, threadID, assistantID, message string, sink agency.EventSink) error {
	return nil
}

func (f *fakeClient) ListMessages(ctx context.Context, threadID string, limit int) ([]agency.Message, error) {
	return nil, nil
}

func sessionSpec() *agency.Spec {
	return &agency.Spec{
		ID:        "agency1",
		Name:      "Test Agency",
		MainAgent: "root",
		Agents: []agency.AgentDef{
			{Role: "root", Instructions: "Coordinate."},
			{Role: "helper", Instructions: "Assist."},
		},
		Edges: []agency.Edge{{Sender: "root", Receiver: "helper"}},
	}
}

func TestCreateMakesFreshThreads(t *testing.T) {
	client := &fakeClient{}
	g, err := agency.NewGraph(sessionSpec(), client)
	require.NoError(t, err)

	// Pre-existing ids simulate a warm topology graph; they must not leak
	// into the new conversation.
	edge := agency.Edge{Sender: "root", Receiver: "helper"}
	g.Threads[edge].RemoteID = "thread_old_edge"
	g.Main.RemoteID = "thread_old_main"

	st := newMemStore()
	ix := NewIndex(st, nil)
	sess, err := ix.Create(context.Background(), "user1", g)
	require.NoError(t, err)

	assert.NotEqual(t, "thread_old_edge", g.Threads[edge].RemoteID)
	assert.NotEqual(t, "thread_old_main", g.Main.RemoteID)
	assert.Equal(t, int64(2), client.threads.Load())

	// The session id is the new main thread's remote id.
	assert.Equal(t, g.Main.RemoteID, sess.ID)
	assert.Equal(t, sess.ID, sess.MainThreadID)
	assert.Equal(t, "user1", sess.UserID)
	assert.Equal(t, "agency1", sess.AgencyID)
	assert.Equal(t, g.Threads[edge].RemoteID, sess.ThreadIDs["root"]["helper"])

	stored, err := ix.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, stored.ID)
}

func TestCreateRequiresClient(t *testing.T) {
	g, err := agency.NewGraph(sessionSpec(), &fakeClient{})
	require.NoError(t, err)
	g.Reattach(nil)

	_, err = NewIndex(newMemStore(), nil).Create(context.Background(), "user1", g)
	assert.Error(t, err)
}

func TestGetUnknownSession(t *testing.T) {
	ix := NewIndex(newMemStore(), nil)
	_, err := ix.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRestorePinsThreadIDs(t *testing.T) {
	g, err := agency.NewGraph(sessionSpec(), &fakeClient{})
	require.NoError(t, err)

	sess := &store.Session{
		ID:           "thread_main",
		MainThreadID: "thread_main",
		ThreadIDs:    map[string]map[string]string{"root": {"helper": "thread_edge"}},
	}
	NewIndex(newMemStore(), nil).Restore(g, sess)

	assert.Equal(t, "thread_edge", g.Threads[agency.Edge{Sender: "root", Receiver: "helper"}].RemoteID)
	assert.Equal(t, "thread_main", g.Main.RemoteID)
}

func TestRestoreKeepsUnknownEdges(t *testing.T) {
	spec := sessionSpec()
	spec.Agents = append(spec.Agents, agency.AgentDef{Role: "archivist"})
	spec.Edges = append(spec.Edges, agency.Edge{Sender: "root", Receiver: "archivist"})

	g, err := agency.NewGraph(spec, &fakeClient{})
	require.NoError(t, err)
	newEdge := agency.Edge{Sender: "root", Receiver: "archivist"}
	g.Threads[newEdge].RemoteID = "thread_current"

	// A session persisted before the archivist edge existed.
	sess := &store.Session{
		ID:           "thread_main",
		MainThreadID: "thread_main",
		ThreadIDs:    map[string]map[string]string{"root": {"helper": "thread_edge"}},
	}
	NewIndex(newMemStore(), nil).Restore(g, sess)

	assert.Equal(t, "thread_current", g.Threads[newEdge].RemoteID)
}

func TestTouch(t *testing.T) {
	st := newMemStore()
	ix := NewIndex(st, nil)

	client := &fakeClient{}
	g, err := agency.NewGraph(sessionSpec(), client)
	require.NoError(t, err)
	sess, err := ix.Create(context.Background(), "user1", g)
	require.NoError(t, err)

	assert.NoError(t, ix.Touch(context.Background(), sess.ID))
	assert.ErrorIs(t, ix.Touch(context.Background(), "nope"), ErrSessionNotFound)
}
