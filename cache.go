package pagecache

import (
	"context"
	"io"
)

// GetMeta is passed to Handler.Get.
type GetMeta struct {
	// ImplicitTags are tags derived by rendering layer from the request path,
	// entry should be considered missing if any of them was revalidated after entry was written.
	ImplicitTags []string
}

// Handler is a backing store of CacheHandler.
type Handler interface {
	// Name is used in logs and stats.
	Name() string

	// Get returns stored entry, nil entry and nil error or ErrNotFound indicate a miss.
	// Other errors make CacheHandler fail over to the next handler.
	Get(ctx context.Context, key string, meta GetMeta) (*CacheEntry, error)

	// Set stores entry.
	Set(ctx context.Context, key string, entry CacheEntry) error

	// RevalidateTag drops all entries associated with the tag.
	RevalidateTag(ctx context.Context, tag string) error
}

// Deleter is implemented by handlers that do not evict expired entries on their own.
//
// CacheHandler calls Delete when the entry returned by Get has expired.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// TagRevalidator revalidates tags.
type TagRevalidator interface {
	RevalidateTag(ctx context.Context, tags ...string) error
}

// Dumper dumps cache entries in binary format.
type Dumper interface {
	Dump(w io.Writer) (int, error)
}

// Restorer restores cache entries from binary dump.
type Restorer interface {
	Restore(r io.Reader) (int, error)
}
