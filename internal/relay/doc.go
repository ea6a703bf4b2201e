// Package relay implements the WebSocket conversation protocol. Each
// connection runs a read loop that authenticates every frame, resolves the
// session, fetches or builds the agent graph, and executes the turn on a
// worker goroutine while the loop drains events into ordered agent_status
// frames. A turn's failure becomes one structured error frame; only an
// invalid credential terminates the connection.
package relay
