package api

import (
	"context"

	"github.com/terra-clan/treetest-engine/internal/navigation"
)

type contextKey string

const sessionContextKey contextKey = "navigation_session"

// SessionFromContext extracts the participant session from context
func SessionFromContext(ctx context.Context) *navigation.Session {
	sess, ok := ctx.Value(sessionContextKey).(*navigation.Session)
	if !ok {
		return nil
	}
	return sess
}

// ContextWithSession adds a participant session to context
func ContextWithSession(ctx context.Context, sess *navigation.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}
