package pagecache

import (
	"time"

	"github.com/puzpuzpuz/xsync"
)

// RevalidatedTags tracks last revalidation time of tags.
//
// Handlers that can not enumerate entries by implicit tags use it to discard entries
// written before revalidation.
type RevalidatedTags struct {
	m *xsync.Map
}

// NewRevalidatedTags creates an empty registry.
func NewRevalidatedTags() *RevalidatedTags {
	return &RevalidatedTags{m: xsync.NewMap()}
}

// Mark records revalidation of a tag.
func (r *RevalidatedTags) Mark(tag string, at time.Time) {
	r.m.Store(tag, at.UnixMilli())
}

// Since returns true if any of tags was revalidated after lastModified milliseconds.
func (r *RevalidatedTags) Since(lastModified int64, tags ...[]string) bool {
	for _, group := range tags {
		for _, tag := range group {
			if at, ok := r.m.Load(tag); ok && at.(int64) > lastModified {
				return true
			}
		}
	}

	return false
}

// Outdated returns true if entry or implicit tags were revalidated after entry was written.
func (r *RevalidatedTags) Outdated(e CacheEntry, implicitTags []string) bool {
	return r.Since(e.LastModified, e.Tags, implicitTags)
}

// HasTag returns true if tags contain tag.
func HasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}

	return false
}
