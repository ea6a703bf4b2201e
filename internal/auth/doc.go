// Package auth verifies client identity for agency-gateway.
//
// Clients authenticate with JWT bearer tokens signed with HS256 using the
// configured jwt_secret. The "sub" claim carries the user id, which scopes
// every agency spec, session, and variable lookup downstream.
//
// WebSocket clients present the token inside each user_message frame rather
// than once at the handshake, so a token revoked or expired mid-conversation
// takes effect on the next turn.
package auth
