// ABOUTME: Context helpers for carrying the authenticated user id.
// ABOUTME: Set by the HTTP middleware, read by API handlers.

package auth

import "context"

type contextKey string

const userIDKey contextKey = "auth.user_id"

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFrom extracts the authenticated user id from the context.
// The second return value is false when the request was not authenticated.
func UserIDFrom(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}
