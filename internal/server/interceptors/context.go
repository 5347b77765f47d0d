package interceptors

import "context"

type contextKey struct{ name string }

var (
	userIDKey    = contextKey{"user_id"}
	orgIDKey     = contextKey{"org_id"}
	roleKey      = contextKey{"role"}
	sessionIDKey = contextKey{"session_id"}
)

// Identity is the caller resolved from a verified access token.
type Identity struct {
	UserID    string
	OrgID     string
	Role      string
	SessionID string
}

// WithIdentity returns a context carrying id. Handlers read it back through GetUserID,
// GetOrgID, GetRole and GetSessionID.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, userIDKey, id.UserID)
	ctx = context.WithValue(ctx, orgIDKey, id.OrgID)
	ctx = context.WithValue(ctx, roleKey, id.Role)
	ctx = context.WithValue(ctx, sessionIDKey, id.SessionID)
	return ctx
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok
}

// GetOrgID returns the org_id from context and true if set; otherwise "", false.
func GetOrgID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(orgIDKey).(string)
	return v, ok
}

// GetRole returns the membership role from context and true if set; otherwise "", false.
func GetRole(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(roleKey).(string)
	return v, ok
}

// GetSessionID returns the session_id from context and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey).(string)
	return v, ok
}
