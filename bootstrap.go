package pagecache

import (
	"context"
	"fmt"
	"reflect"
)

// CreationContext describes rendering server build for CreationHook.
type CreationContext struct {
	// DistDir is a build distribution directory.
	DistDir string

	// Dev indicates development mode, rendering server does not use cache in development mode.
	Dev bool

	// BuildID is a unique identifier of a build, empty if not available.
	// It is useful as a key prefix in shared stores.
	BuildID string
}

// HandlerConfig is returned by CreationHook.
type HandlerConfig struct {
	// Handlers are backing stores in priority order, nil handlers are skipped.
	Handlers []Handler

	// TTL overrides lifespan defaults, zero values keep defaults.
	TTL TTL
}

// CreationHook provides handlers to CacheHandler, it is invoked at most once.
type CreationHook func(ctx context.Context, cc CreationContext) (HandlerConfig, error)

// configuration is populated once and is read-only afterwards.
type configuration struct {
	handlers       []Handler
	ttl            TTL
	fallbackRoutes map[string]struct{}
	fallback       FileSystemFallback
	buildID        string
}

func (conf *configuration) isFallbackRoute(key string) bool {
	_, ok := conf.fallbackRoutes[key]

	return ok
}

// ensureConfigured runs configuration once, concurrent callers wait for the same in-flight run.
func (c *CacheHandler) ensureConfigured(ctx context.Context) (*configuration, error) {
	c.lock.Lock()
	ready := c.ready
	owner := ready == nil

	if owner {
		ready = make(chan struct{})
		c.ready = ready
	}
	c.lock.Unlock()

	if !owner {
		select {
		case <-ready:
			return c.conf, c.confErr
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Stays in place if configuration panics.
	c.confErr = ErrConfiguration

	defer close(ready)

	// Configuration result is shared, so it must not depend on cancellation of the first caller.
	c.conf, c.confErr = c.configure(detachedContext{ctx})

	return c.conf, c.confErr
}

func (c *CacheHandler) configure(ctx context.Context) (*configuration, error) {
	if c.config.OnCreation == nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, ErrNoCreationHook)
	}

	buildID, err := ReadBuildID(c.config.DistDir)
	if err != nil {
		c.debug.Debug(ctx, "build id is not available", "error", err)
	}

	hc, err := c.config.OnCreation(ctx, CreationContext{
		DistDir: c.config.DistDir,
		Dev:     c.config.Dev,
		BuildID: buildID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	conf := &configuration{
		handlers: make([]Handler, 0, len(hc.Handlers)),
		fallback: FileSystemFallback{Dir: c.config.DistDir},
		buildID:  buildID,
	}

	names := make([]string, 0, len(hc.Handlers))

	for _, h := range hc.Handlers {
		if isNilHandler(h) {
			continue
		}

		conf.handlers = append(conf.handlers, h)
		names = append(names, h.Name())
	}

	conf.ttl, err = NewTTL(hc.TTL.DefaultStaleAge, hc.TTL.EstimateExpireAge)
	if err != nil {
		c.log.Warn(ctx, "invalid TTL settings, using defaults", "error", err)
	}

	if c.config.Dev {
		c.log.Warn(ctx, "rendering server does not use cache in development mode, use production mode to enable caching")
	}

	manifest, err := ReadPrerenderManifest(c.config.DistDir)
	if err != nil {
		c.debug.Debug(ctx, "prerender manifest is not available", "error", err)

		conf.fallbackRoutes = map[string]struct{}{}
	} else {
		conf.fallbackRoutes = manifest.FallbackFalseRoutes()
	}

	c.debug.Info(ctx, "cache handler configured",
		"handlers", names,
		"buildID", buildID,
		"fallbackFalseRoutes", len(conf.fallbackRoutes))

	return conf, nil
}

func isNilHandler(h Handler) bool {
	if h == nil {
		return true
	}

	v := reflect.ValueOf(h)

	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}
