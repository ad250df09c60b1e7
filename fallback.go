package pagecache

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// FileSystemFallback keeps pages of routes without regeneration fallback on disk.
//
// Every key is stored as two companion files in <Dir>/pages: <key>.html with markup
// and <key>.json with page data.
type FileSystemFallback struct {
	// Dir is a build distribution directory.
	Dir string
}

// Read returns page entry built from companion files, missing or malformed files result in a miss.
func (f FileSystemFallback) Read(ctx context.Context, key string) (*CacheEntry, bool) {
	htmlPath, dataPath, err := f.paths(key)
	if err != nil {
		return nil, false
	}

	htmlFile, err := os.Open(htmlPath) //nolint:gosec // Path is sanitized.
	if err != nil {
		return nil, false
	}

	defer func() {
		_ = htmlFile.Close()
	}()

	var (
		html     []byte
		info     os.FileInfo
		pageData interface{}
	)

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error

		if info, err = htmlFile.Stat(); err != nil {
			return err
		}

		html, err = io.ReadAll(htmlFile)

		return err
	})

	g.Go(func() error {
		data, err := os.ReadFile(dataPath) //nolint:gosec // Path is sanitized.
		if err != nil {
			return err
		}

		return json.Unmarshal(data, &pageData)
	})

	if err := g.Wait(); err != nil {
		return nil, false
	}

	return &CacheEntry{
		LastModified: info.ModTime().UnixMilli(),
		Tags:         []string{},
		Value: PageValue{
			HTML:     string(html),
			PageData: pageData,
		},
	}, true
}

// Write stores page markup and data, parent directories are created as needed.
func (f FileSystemFallback) Write(ctx context.Context, key string, page PageValue) error {
	htmlPath, dataPath, err := f.paths(key)
	if err != nil {
		return err
	}

	data, err := json.Marshal(page.PageData)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(htmlPath), 0o755); err != nil {
		return err
	}

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		return writeFileAtomic(htmlPath, []byte(page.HTML))
	})

	g.Go(func() error {
		return writeFileAtomic(dataPath, data)
	})

	return g.Wait()
}

func (f FileSystemFallback) paths(key string) (htmlPath, dataPath string, err error) {
	base := filepath.Join(f.Dir, "pages")

	rel := path.Clean("/" + key)
	if rel == "/" {
		return "", "", ErrInvalidKey
	}

	p := filepath.Join(base, filepath.FromSlash(rel))
	if !strings.HasPrefix(p, base+string(filepath.Separator)) {
		return "", "", ErrInvalidKey
	}

	return p + ".html", p + ".json", nil
}

func writeFileAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), ".fallback-*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Chmod(0o644)
	}

	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Rename(tmpName, name)
	}

	if err != nil {
		_ = os.Remove(tmpName)
	}

	return err
}
