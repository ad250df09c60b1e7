package pagecache

import "context"

type skipReadCtxKey struct{}

// WithSkipRead returns context with cache read ignored.
//
// With such context CacheHandler.Get reports a miss without consulting handlers,
// so that value is rendered again and written to all handlers.
func WithSkipRead(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipReadCtxKey{}, true)
}

// SkipRead returns true if cache read is ignored in context.
func SkipRead(ctx context.Context) bool {
	_, ok := ctx.Value(skipReadCtxKey{}).(bool)

	return ok
}
