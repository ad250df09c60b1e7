package pagecache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
)

// DebugEnv is an environment variable that enables logging of cache events when present.
const DebugEnv = "NEXT_PRIVATE_DEBUG_CACHE"

// Config is a configuration for New.
type Config struct {
	// DistDir is a build distribution directory of rendering server.
	DistDir string

	// Dev indicates development mode of rendering server.
	Dev bool

	// Debug enables logging of cache events, it is enabled by presence of DebugEnv by default.
	Debug bool

	// OnCreation provides handlers, it is called once on first cache operation.
	OnCreation CreationHook

	// Logger collects messages with context.
	Logger ctxd.Logger

	// Stats tracks stats.
	Stats stats.Tracker

	// Now is a clock, default time.Now.
	Now func() time.Time
}

// GetOptions are provided by rendering layer to Get.
type GetOptions struct {
	// Tags are explicit tags of a requested value.
	Tags []string

	// SoftTags are implicit tags of a requested value, they are passed to handlers as GetMeta.ImplicitTags.
	SoftTags []string

	// KindHint is an expected kind of value.
	KindHint Kind
}

// SetOptions are provided by rendering layer to Set.
type SetOptions struct {
	// Revalidate is a revalidation interval, zero means no interval.
	Revalidate Revalidate

	// Tags are stored with the entry, they are replaced with page tags for PageValue.
	Tags []string
}

// CacheHandler is a cache that delegates to an ordered list of handlers.
//
// Please use New to create instance.
type CacheHandler struct {
	config Config
	log    ctxd.Logger
	debug  ctxd.Logger
	stat   stats.Tracker

	lock    sync.Mutex
	ready   chan struct{} // Closed when configuration is finished.
	conf    *configuration
	confErr error

	writeBacks sync.WaitGroup
}

var _ TagRevalidator = &CacheHandler{}

// New creates CacheHandler, handlers are obtained from Config.OnCreation on first use.
func New(config Config) *CacheHandler {
	if config.Logger == nil {
		config.Logger = ctxd.NoOpLogger{}
	}

	if config.Stats == nil {
		config.Stats = stats.NoOp{}
	}

	if config.Now == nil {
		config.Now = time.Now
	}

	if !config.Debug {
		_, config.Debug = os.LookupEnv(DebugEnv)
	}

	c := &CacheHandler{
		config: config,
		log:    config.Logger,
		debug:  ctxd.NoOpLogger{},
		stat:   config.Stats,
	}

	if config.Debug {
		c.debug = config.Logger
	}

	return c
}

// Name describes configured handlers.
func (c *CacheHandler) Name() string {
	c.lock.Lock()
	ready := c.ready
	c.lock.Unlock()

	if ready == nil {
		return "pagecache is not configured yet"
	}

	select {
	case <-ready:
	default:
		return "pagecache is not configured yet"
	}

	if c.conf == nil {
		return "pagecache is not configured"
	}

	n := len(c.conf.handlers)
	if n == 1 {
		return "pagecache with 1 Handler"
	}

	return "pagecache with " + strconv.Itoa(n) + " Handlers"
}

// Get returns entry from the first handler that responds without error.
//
// Nil entry is returned on a miss or if context has WithSkipRead.
// Error is only returned if cache is not configured.
func (c *CacheHandler) Get(ctx context.Context, key string, opts GetOptions) (*CacheEntry, error) {
	conf, err := c.ensureConfigured(ctx)
	if err != nil {
		return nil, err
	}

	if SkipRead(ctx) {
		c.debug.Debug(ctx, "cache read skipped", "key", key)

		return nil, nil
	}

	entry := c.getFromHandlers(ctx, conf, key, GetMeta{ImplicitTags: opts.SoftTags})

	if entry != nil {
		v, err := decodeValue(entry.Value)
		if err != nil {
			c.stat.Add(ctx, MetricFailed, 1, "name", "codec", "op", "decode")
			c.debug.Warn(ctx, "failed to decode cached value", "key", key, "error", err)

			entry = nil
		} else {
			e := *entry
			e.Value = v
			entry = &e
		}
	}

	if entry == nil && conf.isFallbackRoute(key) {
		entry = c.getFromFallback(ctx, conf, key, opts)
	}

	return entry, nil
}

// getFromHandlers returns the answer of first handler that does not fail, lower priority handlers
// are not consulted after a clean miss.
func (c *CacheHandler) getFromHandlers(ctx context.Context, conf *configuration, key string, meta GetMeta) *CacheEntry {
	nowSec := c.config.Now().Unix()

	for _, h := range conf.handlers {
		name := h.Name()

		entry, err := h.Get(ctx, key, meta)
		if err != nil && !errors.Is(err, ErrNotFound) {
			c.stat.Add(ctx, MetricFailed, 1, "name", name, "op", "get")
			c.debug.Warn(ctx, "handler failed to get value",
				"name", name,
				"key", key,
				"error", err)

			continue
		}

		if err != nil {
			entry = nil
		}

		if entry != nil && entry.Lifespan.IsExpired(nowSec) {
			c.stat.Add(ctx, MetricExpired, 1, "name", name)
			c.evict(ctx, h, key)

			entry = nil
		}

		if entry == nil {
			c.stat.Add(ctx, MetricMiss, 1, "name", name)
		} else {
			c.stat.Add(ctx, MetricHit, 1, "name", name)
		}

		c.debug.Debug(ctx, "get from handler",
			"name", name,
			"key", key,
			"found", entry != nil)

		return entry
	}

	return nil
}

func (c *CacheHandler) evict(ctx context.Context, h Handler, key string) {
	d, ok := h.(Deleter)
	if !ok {
		return
	}

	if err := d.Delete(ctx, key); err != nil {
		c.stat.Add(ctx, MetricFailed, 1, "name", h.Name(), "op", "delete")
		c.debug.Warn(ctx, "handler failed to delete expired value",
			"name", h.Name(),
			"key", key,
			"error", err)
	}
}

func (c *CacheHandler) getFromFallback(ctx context.Context, conf *configuration, key string, opts GetOptions) *CacheEntry {
	entry, found := conf.fallback.Read(ctx, key)

	c.debug.Info(ctx, "get from file system",
		"key", key,
		"tags", opts.Tags,
		"kindHint", opts.KindHint,
		"found", found)

	if !found {
		return nil
	}

	c.stat.Add(ctx, MetricFallbackHit, 1)

	// Populating handlers in background, entry is served from disk meanwhile.
	writeBack := *entry
	bgCtx := detachedContext{ctx}

	c.writeBacks.Add(1)

	go func() {
		defer c.writeBacks.Done()

		if err := c.setToHandlers(bgCtx, conf, key, writeBack); err != nil {
			c.debug.Warn(bgCtx, "failed to write file system value to handlers", "key", key, "error", err)
		}
	}()

	return entry
}

// Wait blocks until background write-backs of file system values to handlers are finished.
//
// It should be called before closing handlers.
func (c *CacheHandler) Wait() {
	c.writeBacks.Wait()
}

// Set stores value in all handlers.
//
// Failures of individual handlers are not reported, error is only returned if cache is not configured.
func (c *CacheHandler) Set(ctx context.Context, key string, value Value, opts SetOptions) error {
	conf, err := c.ensureConfigured(ctx)
	if err != nil {
		return err
	}

	lastModified := c.config.Now().UnixMilli()
	fallbackRoute := conf.isFallbackRoute(key)

	// Fallback-false routes are only replaced by a new build.
	var lifespan *Lifespan

	if !fallbackRoute {
		l := conf.ttl.Lifespan(lastModified, opts.Revalidate)
		lifespan = &l
	}

	v, tags := encodeValue(value, opts.Tags)

	entry := CacheEntry{
		LastModified: lastModified,
		Lifespan:     lifespan,
		Tags:         append(make([]string, 0, len(tags)), tags...),
		Value:        v,
	}

	if err := c.setToHandlers(ctx, conf, key, entry); err != nil {
		c.debug.Warn(ctx, "failed to set value to some handlers", "key", key, "error", err)
	}

	c.debug.Info(ctx, "set to handlers", "key", key)

	if page, ok := v.(PageValue); ok && fallbackRoute {
		c.setToFallback(ctx, conf, key, page)
	}

	return nil
}

func (c *CacheHandler) setToFallback(ctx context.Context, conf *configuration, key string, page PageValue) {
	if err := conf.fallback.Write(ctx, key, page); err != nil {
		c.stat.Add(ctx, MetricFailed, 1, "name", "filesystem", "op", "set")
		c.debug.Warn(ctx, "unable to write to file system", "key", key, "error", err)

		return
	}

	c.stat.Add(ctx, MetricFallbackSave, 1)
	c.debug.Info(ctx, "set to file system", "key", key)
}

func (c *CacheHandler) setToHandlers(ctx context.Context, conf *configuration, key string, entry CacheEntry) error {
	return c.fanOut(ctx, conf, "set", func(h Handler) error {
		if err := h.Set(ctx, key, entry); err != nil {
			return err
		}

		c.stat.Add(ctx, MetricWrite, 1, "name", h.Name())

		return nil
	}, "key", key)
}

// RevalidateTag revalidates tags one by one, each tag is revalidated in all handlers concurrently.
//
// Failures of individual handlers are not reported, error is only returned if cache is not configured.
func (c *CacheHandler) RevalidateTag(ctx context.Context, tags ...string) error {
	conf, err := c.ensureConfigured(ctx)
	if err != nil {
		return err
	}

	c.debug.Info(ctx, "revalidate tags", "tags", tags)

	for _, tag := range tags {
		err := c.fanOut(ctx, conf, "revalidateTag", func(h Handler) error {
			if err := h.RevalidateTag(ctx, tag); err != nil {
				return err
			}

			c.stat.Add(ctx, MetricRevalidated, 1, "name", h.Name())

			return nil
		}, "tag", tag)
		if err != nil {
			c.debug.Warn(ctx, "failed to revalidate tag in some handlers", "tag", tag, "error", err)
		}
	}

	c.debug.Info(ctx, "revalidated tags in handlers", "tags", tags)

	return nil
}

// fanOut calls fn for all handlers concurrently and waits for all of them, failures are joined.
func (c *CacheHandler) fanOut(
	ctx context.Context,
	conf *configuration,
	op string,
	fn func(h Handler) error,
	keysAndValues ...interface{},
) error {
	errs := make([]error, len(conf.handlers))

	wg := sync.WaitGroup{}
	wg.Add(len(conf.handlers))

	for i, h := range conf.handlers {
		go func(i int, h Handler) {
			defer wg.Done()

			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("%s: panic: %v", h.Name(), r)
				}
			}()

			if err := fn(h); err != nil {
				errs[i] = fmt.Errorf("%s: %w", h.Name(), err)

				c.stat.Add(ctx, MetricFailed, 1, "name", h.Name(), "op", op)
				c.debug.Warn(ctx, "handler failed to "+op,
					append([]interface{}{"name", h.Name(), "error", err}, keysAndValues...)...)
			}
		}(i, h)
	}

	wg.Wait()

	return errors.Join(errs...)
}
