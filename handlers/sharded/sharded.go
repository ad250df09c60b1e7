// Package sharded provides a page cache handler backed by github.com/bool64/cache sharded map.
package sharded

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bool64/cache"
	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
	"github.com/puzpuzpuz/xsync"
	"github.com/vearutop/pagecache"
)

// Config controls sharded handler.
type Config struct {
	// Name is handler name, default "sharded".
	Name string

	// Logger is an instance of contextualized logger, can be nil.
	Logger ctxd.Logger

	// Stats is metrics collector, can be nil.
	Stats stats.Tracker

	// TimeToLive is used for entries without lifespan, default one year.
	TimeToLive time.Duration
}

var (
	_ pagecache.Handler = &Handler{}
	_ pagecache.Deleter = &Handler{}
)

// Handler keeps entries in a sharded in-memory map.
type Handler struct {
	config Config
	m      *cache.ShardedMap

	// byTag maps tag to a set of keys.
	byTag       *xsync.Map
	revalidated *pagecache.RevalidatedTags
}

// New creates sharded handler.
func New(cfg Config) *Handler {
	if cfg.Name == "" {
		cfg.Name = "sharded"
	}

	if cfg.TimeToLive == 0 {
		cfg.TimeToLive = time.Duration(pagecache.DefaultStaleAge) * time.Second
	}

	m := cache.NewShardedMap(func(c *cache.Config) {
		c.Name = cfg.Name
		c.TimeToLive = cfg.TimeToLive
		c.ExpirationJitter = -1

		if cfg.Logger != nil {
			c.Logger = cfg.Logger
		}

		if cfg.Stats != nil {
			c.Stats = cfg.Stats
		}
	})

	return &Handler{
		config:      cfg,
		m:           m,
		byTag:       xsync.NewMap(),
		revalidated: pagecache.NewRevalidatedTags(),
	}
}

// Name returns configured name.
func (h *Handler) Name() string {
	return h.config.Name
}

// Get reads entry, missing, expired and revalidated entries result in nil.
func (h *Handler) Get(ctx context.Context, key string, meta pagecache.GetMeta) (*pagecache.CacheEntry, error) {
	v, err := h.m.Read(ctx, []byte(key))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) || errors.Is(err, cache.ErrExpired) {
			return nil, nil
		}

		return nil, err
	}

	e, ok := v.(pagecache.CacheEntry)
	if !ok {
		return nil, fmt.Errorf("unexpected value type %T", v)
	}

	if h.revalidated.Outdated(e, meta.ImplicitTags) {
		return nil, h.Delete(ctx, key)
	}

	return &e, nil
}

// Set stores entry until its lifespan expires.
func (h *Handler) Set(ctx context.Context, key string, e pagecache.CacheEntry) error {
	ttl := h.config.TimeToLive

	if e.Lifespan != nil {
		ttl = e.Lifespan.ExpiresIn(time.Now())
		if ttl <= 0 {
			return h.Delete(ctx, key)
		}
	}

	if err := h.m.Write(cache.WithTTL(ctx, ttl, true), []byte(key), e); err != nil {
		return err
	}

	for _, tag := range e.Tags {
		keys, _ := h.byTag.LoadOrStore(tag, xsync.NewMap())
		keys.(*xsync.Map).Store(key, struct{}{})
	}

	return nil
}

// RevalidateTag deletes entries having the tag.
func (h *Handler) RevalidateTag(ctx context.Context, tag string) error {
	h.revalidated.Mark(tag, time.Now())

	keys, ok := h.byTag.Load(tag)
	if !ok {
		return nil
	}

	h.byTag.Delete(tag)

	var err error

	keys.(*xsync.Map).Range(func(key string, _ interface{}) bool {
		v, rerr := h.m.Read(ctx, []byte(key))
		if rerr != nil {
			return true
		}

		// Key could be overwritten without the tag.
		if e, ok := v.(pagecache.CacheEntry); ok && !pagecache.HasTag(e.Tags, tag) {
			return true
		}

		if derr := h.Delete(ctx, key); derr != nil {
			err = derr

			return false
		}

		return true
	})

	return err
}

// Delete removes entry.
func (h *Handler) Delete(ctx context.Context, key string) error {
	err := h.m.Delete(ctx, []byte(key))
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		return err
	}

	return nil
}

// Len returns number of stored entries.
func (h *Handler) Len() int {
	return h.m.Len()
}
