// Package leveldb provides a persistent page cache handler backed by LevelDB.
package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/bool64/ctxd"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/vearutop/pagecache"
)

// Key prefixes.
const (
	entryPrefix       = "e:"
	tagPrefix         = "t:"
	revalidatedPrefix = "r:"
)

// Config controls LevelDB handler.
type Config struct {
	// Name is handler name, default "leveldb".
	Name string

	// Path is a database directory.
	Path string

	// Logger is an instance of contextualized logger, can be nil.
	Logger ctxd.Logger
}

var (
	_ pagecache.Handler = &Handler{}
	_ pagecache.Deleter = &Handler{}
)

// Handler keeps JSON encoded entries in LevelDB.
//
// Tag index and tag revalidation times are stored in the same database,
// so they survive restarts.
type Handler struct {
	config Config
	db     *leveldb.DB
}

// Open opens or creates database at Config.Path.
func Open(cfg Config) (*Handler, error) {
	if cfg.Name == "" {
		cfg.Name = "leveldb"
	}

	if cfg.Logger == nil {
		cfg.Logger = ctxd.NoOpLogger{}
	}

	db, err := leveldb.OpenFile(cfg.Path, nil)
	if err != nil {
		return nil, ctxd.WrapError(context.Background(), err, "failed to open leveldb", "path", cfg.Path)
	}

	return &Handler{config: cfg, db: db}, nil
}

// Close closes database.
func (h *Handler) Close() error {
	return h.db.Close()
}

// Name returns configured name.
func (h *Handler) Name() string {
	return h.config.Name
}

// Get reads entry.
func (h *Handler) Get(ctx context.Context, key string, meta pagecache.GetMeta) (*pagecache.CacheEntry, error) {
	data, err := h.db.Get([]byte(entryPrefix+key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}

		return nil, err
	}

	var e pagecache.CacheEntry

	if err := json.Unmarshal(data, &e); err != nil {
		return nil, ctxd.WrapError(ctx, err, "failed to decode entry", "key", key)
	}

	outdated, err := h.outdated(e, meta.ImplicitTags)
	if err != nil {
		return nil, err
	}

	if outdated {
		h.config.Logger.Debug(ctx, "cache key revalidated", "name", h.config.Name, "key", key)

		return nil, h.Delete(ctx, key)
	}

	return &e, nil
}

func (h *Handler) outdated(e pagecache.CacheEntry, implicitTags []string) (bool, error) {
	for _, tags := range [][]string{e.Tags, implicitTags} {
		for _, tag := range tags {
			v, err := h.db.Get([]byte(revalidatedPrefix+tag), nil)
			if errors.Is(err, leveldb.ErrNotFound) {
				continue
			}

			if err != nil {
				return false, err
			}

			at, err := strconv.ParseInt(string(v), 10, 64)
			if err != nil {
				return false, err
			}

			if at > e.LastModified {
				return true, nil
			}
		}
	}

	return false, nil
}

// Set stores entry and indexes its tags.
func (h *Handler) Set(ctx context.Context, key string, e pagecache.CacheEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return ctxd.WrapError(ctx, err, "failed to encode entry", "key", key)
	}

	b := new(leveldb.Batch)
	b.Put([]byte(entryPrefix+key), data)

	for _, tag := range e.Tags {
		b.Put(tagIndexKey(tag, key), nil)
	}

	return h.db.Write(b, nil)
}

// RevalidateTag deletes entries having the tag and records revalidation time.
func (h *Handler) RevalidateTag(ctx context.Context, tag string) error {
	b := new(leveldb.Batch)
	b.Put([]byte(revalidatedPrefix+tag), []byte(strconv.FormatInt(time.Now().UnixMilli(), 10)))

	prefix := tagIndexKey(tag, "")
	it := h.db.NewIterator(util.BytesPrefix(prefix), nil)

	var keys []string

	for it.Next() {
		// Iterator reuses key buffer.
		key := string(it.Key()[len(prefix):])

		b.Delete(append([]byte(nil), it.Key()...))

		tagged, err := h.hasTag(key, tag)
		if err != nil {
			it.Release()

			return err
		}

		// Key could be overwritten without the tag.
		if tagged {
			keys = append(keys, key)
			b.Delete([]byte(entryPrefix + key))
		}
	}

	it.Release()

	if err := it.Error(); err != nil {
		return err
	}

	h.config.Logger.Debug(ctx, "revalidated tag", "name", h.config.Name, "tag", tag, "keys", keys)

	return h.db.Write(b, nil)
}

// Delete removes entry, stale tag index records are removed on revalidation.
func (h *Handler) Delete(_ context.Context, key string) error {
	return h.db.Delete([]byte(entryPrefix+key), nil)
}

func (h *Handler) hasTag(key, tag string) (bool, error) {
	data, err := h.db.Get([]byte(entryPrefix+key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	var e struct {
		Tags []string `json:"tags"`
	}

	if err := json.Unmarshal(data, &e); err != nil {
		// Undecodable entry is dropped.
		return true, nil //nolint:nilerr
	}

	return pagecache.HasTag(e.Tags, tag), nil
}

func tagIndexKey(tag, key string) []byte {
	return []byte(tagPrefix + tag + "\x00" + key)
}
