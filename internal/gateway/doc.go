// Package gateway wires the agency-gateway components together and runs
// the HTTP server: the WebSocket relay at /ws, the authenticated REST API
// under /api, health probes, and the Prometheus endpoint.
package gateway
