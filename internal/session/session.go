// ABOUTME: Session lifecycle: creating fresh conversation threads on a graph
// ABOUTME: and resolving session ids back to persisted thread state.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/agency-gateway/internal/agency"
	"github.com/2389/agency-gateway/internal/store"
)

// ErrSessionNotFound is returned when a session id resolves to nothing.
var ErrSessionNotFound = errors.New("session not found")

// Store is the persistence surface the index needs.
type Store interface {
	SaveSession(ctx context.Context, sess *store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	TouchSession(ctx context.Context, id string) error
}

// Index creates and resolves conversation sessions. A session pins a set
// of remote thread ids so a conversation survives cache expiry and
// process restarts.
type Index struct {
	store  Store
	logger *slog.Logger
}

// NewIndex creates a session index over the given store.
func NewIndex(st Store, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{store: st, logger: logger.With("component", "session")}
}

// Create starts a new conversation on the graph: every agent-to-agent edge
// and the main entry point get fresh remote threads, so no history leaks
// from previous conversations. The graph is mutated in place. The session
// id is the remote id of the new main thread.
func (ix *Index) Create(ctx context.Context, userID string, g *agency.Graph) (*store.Session, error) {
	if g.Main == nil {
		return nil, errors.New("graph has no main thread")
	}
	client := g.Client()
	if client == nil {
		return nil, errors.New("graph has no client attached")
	}

	threadIDs := make(map[string]map[string]string)
	for _, edge := range g.Edges() {
		th := g.Threads[edge]
		id, err := client.CreateThread(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating thread %s -> %s: %w", edge.Sender, edge.Receiver, err)
		}
		th.RemoteID = id
		if threadIDs[edge.Sender] == nil {
			threadIDs[edge.Sender] = make(map[string]string)
		}
		threadIDs[edge.Sender][edge.Receiver] = id
	}

	mainID, err := client.CreateThread(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating main thread: %w", err)
	}
	g.Main.RemoteID = mainID

	now := time.Now().UTC()
	sess := &store.Session{
		ID:           mainID,
		UserID:       userID,
		AgencyID:     g.AgencyID,
		MainThreadID: mainID,
		ThreadIDs:    threadIDs,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := ix.store.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}

	ix.logger.Info("session created",
		"session_id", sess.ID, "agency_id", g.AgencyID, "user_id", userID)
	return sess, nil
}

// Get resolves a session id, returning ErrSessionNotFound when it does
// not exist.
func (ix *Index) Get(ctx context.Context, id string) (*store.Session, error) {
	sess, err := ix.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Restore pins a graph's threads to the session's persisted remote ids.
// Edges the session does not know about keep their current ids.
func (ix *Index) Restore(g *agency.Graph, sess *store.Session) {
	for edge, th := range g.Threads {
		if id, ok := sess.ThreadIDs[edge.Sender][edge.Receiver]; ok {
			th.RemoteID = id
		}
	}
	if g.Main != nil {
		g.Main.RemoteID = sess.MainThreadID
	}
}

// Touch records conversation activity on the session.
func (ix *Index) Touch(ctx context.Context, id string) error {
	err := ix.store.TouchSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}
