// ABOUTME: Per-connection WebSocket protocol handler for conversation turns.
// ABOUTME: Bridges blocking turn execution into the connection's ordered send path.

package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/2389/agency-gateway/internal/agency"
	"github.com/2389/agency-gateway/internal/auth"
	"github.com/2389/agency-gateway/internal/graphcache"
	"github.com/2389/agency-gateway/internal/metrics"
	"github.com/2389/agency-gateway/internal/runtime"
	"github.com/2389/agency-gateway/internal/session"
	"github.com/2389/agency-gateway/internal/store"
	"github.com/2389/agency-gateway/internal/variables"
)

// historyLimit bounds the consolidated history in an agent_response frame.
const historyLimit = 100

// eventBuffer sizes the channel bridging the turn worker to the send path.
const eventBuffer = 64

// SpecSource loads agency specs with ownership enforced.
type SpecSource interface {
	LoadSpec(ctx context.Context, agencyID, userID string) (*agency.Spec, error)
}

// ClientFactory builds a remote API client carrying one user's credentials.
type ClientFactory interface {
	ClientFor(ctx context.Context, userID string) (agency.Client, error)
}

// Sessions resolves and updates conversation sessions.
type Sessions interface {
	Get(ctx context.Context, id string) (*store.Session, error)
	Restore(g *agency.Graph, sess *store.Session)
	Touch(ctx context.Context, id string) error
}

// GraphCache is the cache surface the relay drives on every turn.
type GraphCache interface {
	GetOrBuild(ctx context.Context, key graphcache.Key, client agency.Client, build graphcache.BuildFunc) (*agency.Graph, error)
}

// Options configures a Relay.
type Options struct {
	Registry *Registry
	Verifier auth.TokenVerifier
	Sessions Sessions
	Specs    SpecSource
	Clients  ClientFactory
	Cache    GraphCache

	// MessagesPerMinute limits user_message frames per connection; 0
	// disables the limit.
	MessagesPerMinute int

	Logger *slog.Logger
}

// Relay accepts WebSocket connections and runs the per-connection protocol:
// authenticate each frame, resolve the session, fetch or build the agent
// graph, execute the turn on a worker goroutine, and forward its events in
// order through the registry.
type Relay struct {
	registry *Registry
	verifier auth.TokenVerifier
	sessions Sessions
	specs    SpecSource
	clients  ClientFactory
	cache    GraphCache

	messagesPerMinute int
	logger            *slog.Logger
}

// New creates a relay from options.
func New(opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		registry:          opts.Registry,
		verifier:          opts.Verifier,
		sessions:          opts.Sessions,
		specs:             opts.Specs,
		clients:           opts.Clients,
		cache:             opts.Cache,
		messagesPerMinute: opts.MessagesPerMinute,
		logger:            logger.With("component", "relay"),
	}
}

// connection is the per-connection state: identity, bound user, and the
// write side of the socket.
type connection struct {
	id      string
	conn    *websocket.Conn
	userID  string
	limiter *rate.Limiter

	writeMu sync.Mutex
}

// write sends one frame, serializing against concurrent writers.
func (c *connection) write(ctx context.Context, frame any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, c.conn, frame)
}

// HandleWS upgrades the request and runs the connection's read loop until
// disconnect. One message is processed at a time per connection; the turn
// itself runs on a worker goroutine so event frames flush while the remote
// call blocks.
func (r *Relay) HandleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket accept failed", "error", err)
		return
	}

	c := &connection{
		id:   uuid.NewString(),
		conn: conn,
	}
	if r.messagesPerMinute > 0 {
		c.limiter = rate.NewLimiter(
			rate.Every(time.Minute/time.Duration(r.messagesPerMinute)),
			r.messagesPerMinute,
		)
	}

	ctx := req.Context()
	r.registry.Register(c.id, func(frame any) {
		if err := c.write(ctx, frame); err != nil {
			r.logger.Debug("frame write failed", "connection_id", c.id, "error", err)
		}
	})
	metrics.ConnectionOpened()
	r.logger.Info("connection opened", "connection_id", c.id)

	defer func() {
		r.registry.Unregister(c.id)
		metrics.ConnectionClosed()
		r.logger.Info("connection closed", "connection_id", c.id)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	for {
		var frame InboundFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return
		}
		if closeConn := r.handleFrame(ctx, c, frame); closeConn {
			return
		}
	}
}

// handleFrame processes one inbound frame. It returns true when the
// connection must terminate.
func (r *Relay) handleFrame(ctx context.Context, c *connection, frame InboundFrame) bool {
	userID, err := r.verifier.Verify(frame.AccessToken)
	if err != nil {
		r.registry.Send(c.id, newErrorFrame("Invalid access token"))
		r.logger.Warn("authentication failed", "connection_id", c.id, "error", err)
		return true
	}
	c.userID = userID

	if frame.Type != FrameUserMessage {
		r.registry.Send(c.id, newErrorFrame("Unsupported message type"))
		return false
	}
	if c.limiter != nil && !c.limiter.Allow() {
		r.registry.Send(c.id, newErrorFrame("Too many messages. Please slow down."))
		return false
	}
	if frame.Data.Content == "" {
		r.registry.Send(c.id, newErrorFrame("Message content is required"))
		return false
	}
	if frame.Data.SessionID == "" {
		r.registry.Send(c.id, newErrorFrame("Session ID is required"))
		return false
	}

	r.processTurn(ctx, c, frame.Data)
	return false
}

// processTurn drives one conversation turn. Any failure becomes one error
// frame; the connection stays open for the next message.
func (r *Relay) processTurn(ctx context.Context, c *connection, data InboundData) {
	start := time.Now()

	sess, err := r.sessions.Get(ctx, data.SessionID)
	if err != nil {
		r.failTurn(c, start, err)
		return
	}
	// Session ids are capability-shaped but not secrets. Another user's id
	// must look exactly like an unknown one.
	if sess.UserID != c.userID {
		r.failTurn(c, start, session.ErrSessionNotFound)
		return
	}

	client, err := r.clients.ClientFor(ctx, c.userID)
	if err != nil {
		r.failTurn(c, start, err)
		return
	}

	key := graphcache.ConversationKey(sess.AgencyID, sess.ID)
	g, err := r.cache.GetOrBuild(ctx, key, client, func(ctx context.Context) (*agency.Graph, error) {
		return r.buildGraph(ctx, c.userID, sess, client)
	})
	if err != nil {
		r.failTurn(c, start, err)
		return
	}

	// The turn blocks on the remote API; run it on a worker and drain its
	// events here so frames flush in emission order while it runs.
	events := make(chan agency.Event, eventBuffer)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runtime.RunTurn(ctx, g, data.Content, func(ev agency.Event) {
			events <- ev
		})
		close(events)
	}()

	for ev := range events {
		r.registry.Send(c.id, newStatusFrame(ev))
	}
	if err := <-errCh; err != nil {
		r.failTurn(c, start, err)
		return
	}

	messages, err := client.ListMessages(ctx, g.Main.RemoteID, historyLimit)
	if err != nil {
		r.failTurn(c, start, err)
		return
	}
	r.registry.Send(c.id, newResponseFrame(c.id, messages))

	if err := r.sessions.Touch(ctx, sess.ID); err != nil {
		r.logger.Warn("session touch failed", "session_id", sess.ID, "error", err)
	}
	metrics.RecordTurn("ok", time.Since(start).Seconds())
}

// buildGraph materializes the conversation's graph on a cache miss: load
// the spec with ownership enforced, pin the session's thread ids, then
// fill the remaining gaps through the remote API.
func (r *Relay) buildGraph(ctx context.Context, userID string, sess *store.Session, client agency.Client) (*agency.Graph, error) {
	spec, err := r.specs.LoadSpec(ctx, sess.AgencyID, userID)
	if err != nil {
		return nil, err
	}
	g, err := agency.NewGraph(spec, client)
	if err != nil {
		return nil, err
	}
	r.sessions.Restore(g, sess)

	builder := runtime.NewBuilder(client, r.logger)
	if err := builder.Resume(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// failTurn sends one error frame and records the failed turn.
func (r *Relay) failTurn(c *connection, start time.Time, err error) {
	r.logger.Warn("turn failed", "connection_id", c.id, "error", err)
	r.registry.Send(c.id, newErrorFrame(userMessage(err)))
	metrics.RecordTurn("error", time.Since(start).Seconds())
}

// userMessage maps an internal error to the message shown to the client.
// Unset-variable and upstream auth errors pass through because the user can
// act on them; everything else collapses to a generic message.
func userMessage(err error) string {
	var unset *variables.UnsetVariableError
	if errors.As(err, &unset) {
		return unset.Error()
	}
	var authErr *runtime.AuthError
	if errors.As(err, &authErr) {
		return authErr.Message
	}
	if errors.Is(err, session.ErrSessionNotFound) {
		return "Session not found"
	}
	if errors.Is(err, store.ErrNotFound) {
		return "Agency not found"
	}
	return "Something went wrong. Please try again."
}
