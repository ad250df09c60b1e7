// Package gocache provides a page cache handler backed by github.com/patrickmn/go-cache.
package gocache

import (
	"context"
	"fmt"
	"time"

	"github.com/bool64/ctxd"
	gocache "github.com/patrickmn/go-cache"
	"github.com/vearutop/pagecache"
)

// maxTTL keeps expiration within unix nanoseconds range of go-cache items.
const maxTTL = 100 * 365 * 24 * time.Hour

// Config controls go-cache handler.
type Config struct {
	// Name is handler name, default "gocache".
	Name string

	// CleanupInterval is a period of expired items removal, default 10m.
	CleanupInterval time.Duration

	// Logger is an instance of contextualized logger, can be nil.
	Logger ctxd.Logger
}

var (
	_ pagecache.Handler = &Handler{}
	_ pagecache.Deleter = &Handler{}
)

// Handler keeps entries in go-cache.
type Handler struct {
	config      Config
	c           *gocache.Cache
	revalidated *pagecache.RevalidatedTags
}

// New creates go-cache handler.
func New(cfg Config) *Handler {
	if cfg.Name == "" {
		cfg.Name = "gocache"
	}

	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}

	if cfg.Logger == nil {
		cfg.Logger = ctxd.NoOpLogger{}
	}

	return &Handler{
		config:      cfg,
		c:           gocache.New(gocache.NoExpiration, cfg.CleanupInterval),
		revalidated: pagecache.NewRevalidatedTags(),
	}
}

// Name returns configured name.
func (h *Handler) Name() string {
	return h.config.Name
}

// Get reads entry.
func (h *Handler) Get(ctx context.Context, key string, meta pagecache.GetMeta) (*pagecache.CacheEntry, error) {
	v, found := h.c.Get(key)
	if !found {
		return nil, nil
	}

	e, ok := v.(pagecache.CacheEntry)
	if !ok {
		return nil, fmt.Errorf("unexpected value type %T", v)
	}

	if h.revalidated.Outdated(e, meta.ImplicitTags) {
		h.c.Delete(key)
		h.config.Logger.Debug(ctx, "cache key revalidated", "name", h.config.Name, "key", key)

		return nil, nil
	}

	return &e, nil
}

// Set stores entry until its lifespan expires, entries without lifespan do not expire.
func (h *Handler) Set(ctx context.Context, key string, e pagecache.CacheEntry) error {
	d := gocache.NoExpiration

	if e.Lifespan != nil {
		d = e.Lifespan.ExpiresIn(time.Now())
		if d <= 0 {
			h.c.Delete(key)

			return nil
		}

		if d > maxTTL {
			d = gocache.NoExpiration
		}
	}

	h.c.Set(key, e, d)
	h.config.Logger.Debug(ctx, "wrote to cache", "name", h.config.Name, "key", key, "ttl", d)

	return nil
}

// RevalidateTag deletes entries having the tag.
func (h *Handler) RevalidateTag(ctx context.Context, tag string) error {
	h.revalidated.Mark(tag, time.Now())

	var keys []string

	for k, item := range h.c.Items() {
		if e, ok := item.Object.(pagecache.CacheEntry); ok && pagecache.HasTag(e.Tags, tag) {
			keys = append(keys, k)
		}
	}

	for _, k := range keys {
		h.c.Delete(k)
	}

	h.config.Logger.Debug(ctx, "revalidated tag", "name", h.config.Name, "tag", tag, "keys", keys)

	return nil
}

// Delete removes entry.
func (h *Handler) Delete(_ context.Context, key string) error {
	h.c.Delete(key)

	return nil
}

// Len returns number of stored entries, including expired ones that were not cleaned up yet.
func (h *Handler) Len() int {
	return h.c.ItemCount()
}
