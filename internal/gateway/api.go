// ABOUTME: REST API handlers: agency specs, cache refresh, sessions, variables.
// ABOUTME: All routes require a Bearer token; the user id scopes every lookup.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/2389/agency-gateway/internal/agency"
	"github.com/2389/agency-gateway/internal/auth"
	"github.com/2389/agency-gateway/internal/graphcache"
	"github.com/2389/agency-gateway/internal/runtime"
	"github.com/2389/agency-gateway/internal/store"
	"github.com/2389/agency-gateway/internal/variables"
)

// clientFactory builds a remote API client per user. The user's own key
// wins; the configured fallback key, if any, covers users without one.
type clientFactory struct {
	baseURL     string
	fallbackKey string
	variables   *variables.Manager
	logger      *slog.Logger
}

// ClientFor returns a client carrying the user's credentials.
func (f *clientFactory) ClientFor(ctx context.Context, userID string) (agency.Client, error) {
	key, err := f.variables.Get(ctx, userID, variables.KeyOpenAIAPIKey)
	var unset *variables.UnsetVariableError
	if errors.As(err, &unset) && f.fallbackKey != "" {
		key = f.fallbackKey
	} else if err != nil {
		return nil, err
	}
	return runtime.NewAPIClient(f.baseURL, key, f.logger), nil
}

// registerAPIRoutes mounts the authenticated REST API on the mux.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	authed := auth.HTTPMiddleware(g.verifier)

	mux.Handle("POST /api/agencies", authed(http.HandlerFunc(g.handleSaveAgency)))
	mux.Handle("POST /api/agencies/{id}/refresh", authed(http.HandlerFunc(g.handleRefreshAgency)))
	mux.Handle("POST /api/sessions", authed(http.HandlerFunc(g.handleCreateSession)))
	mux.Handle("PUT /api/variables/{key}", authed(http.HandlerFunc(g.handleSetVariable)))
}

// handleSaveAgency stores or replaces an agency spec owned by the caller.
// Any cached graph for the agency is invalidated; the next turn rebuilds.
func (g *Gateway) handleSaveAgency(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())

	var spec agency.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := g.store.SaveSpec(r.Context(), userID, &spec); err != nil {
		g.logger.Warn("spec save failed", "agency_id", spec.ID, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	g.cache.Invalidate(r.Context(), graphcache.TopologyKey(spec.ID))
	g.logger.Info("agency spec saved", "agency_id", spec.ID, "user_id", userID)
	writeJSON(w, http.StatusOK, map[string]any{"agency_id": spec.ID})
}

// handleRefreshAgency rebuilds the agency's graph out of band and
// pre-warms the cache with the result.
func (g *Gateway) handleRefreshAgency(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())
	agencyID := r.PathValue("id")

	spec, err := g.store.LoadSpec(r.Context(), agencyID, userID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "agency not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	client, err := g.clients.ClientFor(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := graphcache.TopologyKey(agencyID)
	g.cache.Invalidate(r.Context(), key)

	builder := runtime.NewBuilder(client, g.logger)
	graph, err := builder.Build(r.Context(), spec)
	if err != nil {
		// Ids assigned before the failure are durable; persist them so a
		// retry fills only the remaining gaps.
		if graph != nil {
			g.persistAssignedIDs(r.Context(), userID, spec, graph)
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	g.persistAssignedIDs(r.Context(), userID, spec, graph)
	g.cache.Put(r.Context(), key, graph, 0)

	g.logger.Info("agency graph refreshed", "agency_id", agencyID, "user_id", userID)
	writeJSON(w, http.StatusOK, map[string]any{"agency_id": agencyID, "refreshed": true})
}

// handleCreateSession starts a new conversation: fresh threads for every
// edge and for the user entry point, on a graph that shares the topology's
// assistant identities.
func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())

	var req struct {
		AgencyID string `json:"agency_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgencyID == "" {
		http.Error(w, "agency_id is required", http.StatusBadRequest)
		return
	}

	client, err := g.clients.ClientFor(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	topo, err := g.cache.GetOrBuild(r.Context(), graphcache.TopologyKey(req.AgencyID), client,
		func(ctx context.Context) (*agency.Graph, error) {
			spec, err := g.store.LoadSpec(ctx, req.AgencyID, userID)
			if err != nil {
				return nil, err
			}
			builder := runtime.NewBuilder(client, g.logger)
			graph, err := builder.Build(ctx, spec)
			if err != nil {
				if graph != nil {
					g.persistAssignedIDs(ctx, userID, spec, graph)
				}
				return nil, err
			}
			g.persistAssignedIDs(ctx, userID, spec, graph)
			return graph, nil
		})
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "agency not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	// Clone the topology graph with the thread ids cleared so the new
	// conversation never shares thread state with another one.
	stored := topo.Stored()
	for i := range stored.Threads {
		stored.Threads[i].RemoteID = ""
	}
	stored.Main.RemoteID = ""
	conv, err := stored.Attach(client)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sess, err := g.sessions.Create(r.Context(), userID, conv)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	g.cache.Put(r.Context(), graphcache.ConversationKey(sess.AgencyID, sess.ID), conv, 0)

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"agency_id":  sess.AgencyID,
	})
}

// handleSetVariable stores a per-user configuration variable such as the
// remote API key.
func (g *Gateway) handleSetVariable(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFrom(r.Context())
	key := r.PathValue("key")

	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == "" {
		http.Error(w, "value is required", http.StatusBadRequest)
		return
	}
	if err := g.variables.Set(r.Context(), userID, key, req.Value); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "saved": true})
}

// persistAssignedIDs writes the remote ids a build assigned back into the
// stored spec so they survive restarts and partial failures.
func (g *Gateway) persistAssignedIDs(ctx context.Context, userID string, spec *agency.Spec, graph *agency.Graph) {
	changed := false
	for i, def := range spec.Agents {
		if handle, ok := graph.Agents[def.Role]; ok && handle.RemoteID != "" && def.RemoteID != handle.RemoteID {
			spec.Agents[i].RemoteID = handle.RemoteID
			changed = true
		}
	}
	if !changed {
		return
	}
	if err := g.store.SaveSpec(ctx, userID, spec); err != nil {
		g.logger.Warn("persisting assigned ids failed", "agency_id", spec.ID, "error", err)
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}
