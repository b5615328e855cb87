package context

import (
	"context"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "user_id"
	// UsernameKey is the context key for the display username
	UsernameKey ContextKey = "username"
	// PrivilegedKey is the context key for the privileged flag
	PrivilegedKey ContextKey = "privileged"
)

// ExtractUserID extracts the user ID from the request context
func ExtractUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// ExtractUsername extracts the username from the request context
func ExtractUsername(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameKey).(string)
	return username, ok
}

// IsPrivileged reports whether the authenticated caller holds the
// privileged flag. Absent means false.
func IsPrivileged(ctx context.Context) bool {
	privileged, ok := ctx.Value(PrivilegedKey).(bool)
	return ok && privileged
}
