// Package requestctx provides request-scoped values set by middleware.
package requestctx

import "context"

type contextKey struct{}

var callerIDKey = &contextKey{}

// SetCallerID stores the authenticated caller id in the context.
func SetCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerIDKey, callerID)
}

// CallerID returns the caller id from context, or "" if not set.
func CallerID(ctx context.Context) string {
	v, _ := ctx.Value(callerIDKey).(string)
	return v
}
