package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bool64/ctxd"
	"github.com/vearutop/pagecache"
	"github.com/vearutop/pagecache/handlers/gocache"
	"github.com/vearutop/pagecache/handlers/leveldb"
	"github.com/vearutop/pagecache/handlers/sharded"
	"github.com/vearutop/pagecache/internal/logging"
	"gopkg.in/yaml.v3"
)

// Tier types.
const (
	tierMemory  = "memory"
	tierSharded = "sharded"
	tierGoCache = "gocache"
	tierLevelDB = "leveldb"
	tierNoOp    = "noop"
)

// Config is a pagecachectl configuration file.
type Config struct {
	DistDir string         `yaml:"distDir"`
	Dev     bool           `yaml:"dev"`
	Debug   bool           `yaml:"debug"`
	Log     logging.Config `yaml:"log"`

	TTL struct {
		DefaultStaleAge int64   `yaml:"defaultStaleAge"`
		ExpireAgeFactor float64 `yaml:"expireAgeFactor"`
	} `yaml:"ttl"`

	Tiers []Tier `yaml:"tiers"`
}

// Tier configures a handler, tiers are consulted in order of appearance.
type Tier struct {
	Type            string `yaml:"type"`
	Name            string `yaml:"name"`
	TimeToLive      string `yaml:"timeToLive"`
	CleanupInterval string `yaml:"cleanupInterval"`
	Path            string `yaml:"path"`

	// compiled
	ttl     time.Duration
	cleanup time.Duration
}

// LoadConfig reads and validates configuration file.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path) //nolint:gosec // Path is provided by operator.
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.DistDir == "" {
		return Config{}, fmt.Errorf("distDir is required")
	}

	if len(cfg.Tiers) == 0 {
		cfg.Tiers = []Tier{{Type: tierMemory}}
	}

	for i := range cfg.Tiers {
		t := &cfg.Tiers[i]

		switch t.Type {
		case tierMemory, tierSharded, tierGoCache, tierNoOp:
		case tierLevelDB:
			if t.Path == "" {
				return Config{}, fmt.Errorf("tiers[%d].path: required for %s", i, t.Type)
			}
		default:
			return Config{}, fmt.Errorf("tiers[%d].type: unknown %q", i, t.Type)
		}

		if t.TimeToLive != "" {
			if t.ttl, err = time.ParseDuration(t.TimeToLive); err != nil {
				return Config{}, fmt.Errorf("tiers[%d].timeToLive: %w", i, err)
			}
		}

		if t.CleanupInterval != "" {
			if t.cleanup, err = time.ParseDuration(t.CleanupInterval); err != nil {
				return Config{}, fmt.Errorf("tiers[%d].cleanupInterval: %w", i, err)
			}
		}
	}

	return cfg, nil
}

// creationHook builds handlers of configured tiers, closers release them.
func (cfg Config) creationHook(logger ctxd.Logger, closers *[]io.Closer) pagecache.CreationHook {
	return func(ctx context.Context, cc pagecache.CreationContext) (pagecache.HandlerConfig, error) {
		hc := pagecache.HandlerConfig{}

		for _, t := range cfg.Tiers {
			h, err := t.handler(logger, closers)
			if err != nil {
				return hc, err
			}

			hc.Handlers = append(hc.Handlers, h)
		}

		hc.TTL.DefaultStaleAge = cfg.TTL.DefaultStaleAge

		if f := cfg.TTL.ExpireAgeFactor; f != 0 {
			hc.TTL.EstimateExpireAge = func(staleAge int64) int64 {
				return int64(float64(staleAge) * f)
			}
		}

		logger.Debug(ctx, "tiers created", "tiers", len(hc.Handlers), "buildID", cc.BuildID)

		return hc, nil
	}
}

func (t Tier) handler(logger ctxd.Logger, closers *[]io.Closer) (pagecache.Handler, error) {
	switch t.Type {
	case tierMemory:
		m := pagecache.NewMemory(pagecache.MemoryConfig{
			Name:                     t.Name,
			Logger:                   logger,
			DeleteExpiredJobInterval: t.cleanup,
		})
		*closers = append(*closers, closerFunc(func() error {
			m.Close()

			return nil
		}))

		return m, nil
	case tierSharded:
		return sharded.New(sharded.Config{Name: t.Name, Logger: logger, TimeToLive: t.ttl}), nil
	case tierGoCache:
		return gocache.New(gocache.Config{Name: t.Name, Logger: logger, CleanupInterval: t.cleanup}), nil
	case tierLevelDB:
		h, err := leveldb.Open(leveldb.Config{Name: t.Name, Path: t.Path, Logger: logger})
		if err != nil {
			return nil, err
		}

		*closers = append(*closers, h)

		return h, nil
	default:
		return pagecache.NoOp{}, nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
