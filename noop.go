package pagecache

import (
	"context"
)

// NoOp is a Handler stub.
type NoOp struct{}

var _ Handler = NoOp{}

// Name returns "noop".
func (NoOp) Name() string {
	return "noop"
}

// Get does not find anything.
func (NoOp) Get(ctx context.Context, key string, meta GetMeta) (*CacheEntry, error) {
	return nil, nil
}

// Set discards entry.
func (NoOp) Set(ctx context.Context, key string, entry CacheEntry) error {
	return nil
}

// RevalidateTag does nothing.
func (NoOp) RevalidateTag(ctx context.Context, tag string) error {
	return nil
}
