// Package main provides a command line tool to inspect and populate page cache.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vearutop/pagecache"
	"github.com/vearutop/pagecache/internal/logging"
)

const usage = `Usage: pagecachectl [-config pagecache.yaml] <command>

Commands:
  get KEY                                       print cached entry as JSON, exit 1 on miss
  set KEY FILE [-revalidate N] [-kind page|route] [-tags a,b]
                                                store file content
  revalidate TAG...                             revalidate tags
`

var errMiss = errors.New("cache miss")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pagecachectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { _, _ = fmt.Fprint(stderr, usage) }

	configPath := fs.String("config", getenvDefault("PAGECACHE_CONFIG", "pagecache.yaml"), "path to configuration file")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if fs.NArg() == 0 {
		fs.Usage()

		return 2
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)

		return 1
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "init logger: %v\n", err)

		return 1
	}

	var closers []io.Closer

	c := pagecache.New(pagecache.Config{
		DistDir:    cfg.DistDir,
		Dev:        cfg.Dev,
		Debug:      cfg.Debug,
		OnCreation: cfg.creationHook(logger, &closers),
		Logger:     logger,
	})

	defer func() {
		// Values served from file system are written back to handlers before they are closed.
		c.Wait()

		for _, cl := range closers {
			if err := cl.Close(); err != nil {
				logger.Error(ctx, "failed to close handler", "error", err)
			}
		}
	}()

	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]

	switch cmd {
	case "get":
		err = get(ctx, c, cmdArgs, stdout)
	case "set":
		err = set(ctx, c, cmdArgs, stderr)
	case "revalidate":
		err = revalidate(ctx, c, cmdArgs)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errMiss):
		return 1
	case errors.Is(err, flag.ErrHelp):
		return 2
	default:
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", cmd, err)

		return 1
	}
}

func get(ctx context.Context, c *pagecache.CacheHandler, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("KEY is required")
	}

	e, err := c.Get(ctx, args[0], pagecache.GetOptions{})
	if err != nil {
		return err
	}

	if e == nil {
		return errMiss
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(e)
}

func set(ctx context.Context, c *pagecache.CacheHandler, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	fs.SetOutput(stderr)

	revalidate := fs.Int64("revalidate", 0, "revalidation interval in seconds, 0 for default")
	kind := fs.String("kind", "page", "value kind, page or route")
	tags := fs.String("tags", "", "comma-separated tags")

	pos, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}

	if len(pos) != 2 {
		return errors.New("KEY and FILE are required")
	}

	body, err := os.ReadFile(pos[1])
	if err != nil {
		return err
	}

	opts := pagecache.SetOptions{Revalidate: pagecache.Revalidate(*revalidate)}

	if *tags != "" {
		opts.Tags = strings.Split(*tags, ",")
	}

	var v pagecache.Value

	switch *kind {
	case "page":
		v = pagecache.PageValue{HTML: string(body), Status: 200}
	case "route":
		v = pagecache.RouteValue{Body: body, Status: 200}
	default:
		return fmt.Errorf("unknown kind %q", *kind)
	}

	return c.Set(ctx, pos[0], v, opts)
}

func revalidate(ctx context.Context, c *pagecache.CacheHandler, tags []string) error {
	if len(tags) == 0 {
		return errors.New("at least one TAG is required")
	}

	inv := pagecache.Invalidator{Tags: tags, Target: c}

	return inv.Invalidate(ctx)
}

// parseInterspersed parses flags that may follow positional arguments.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string

	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}

		if fs.NArg() == 0 {
			return pos, nil
		}

		pos = append(pos, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}

	return v
}
