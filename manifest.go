package pagecache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// File names expected in parent of distribution directory.
const (
	BuildIDFile           = "BUILD_ID"
	PrerenderManifestFile = "prerender-manifest.json"
)

// PrerenderManifest lists statically generated routes.
type PrerenderManifest struct {
	Routes        map[string]PrerenderRoute        `json:"routes"`
	DynamicRoutes map[string]PrerenderDynamicRoute `json:"dynamicRoutes"`
}

// PrerenderRoute is a generated route.
type PrerenderRoute struct {
	SrcRoute  *string `json:"srcRoute"`
	DataRoute *string `json:"dataRoute"`
}

// PrerenderDynamicRoute is a parametrized route.
type PrerenderDynamicRoute struct {
	// Fallback is false, null or a fallback page path.
	Fallback json.RawMessage `json:"fallback"`
}

// FallbackFalse returns true if fallback is explicitly disabled.
func (r PrerenderDynamicRoute) FallbackFalse() bool {
	return strings.TrimSpace(string(r.Fallback)) == "false"
}

// FallbackFalseRoutes returns routes with JSON data whose dynamic route has fallback disabled.
func (m PrerenderManifest) FallbackFalseRoutes() map[string]struct{} {
	routes := make(map[string]struct{})

	for route, r := range m.Routes {
		if r.DataRoute == nil || !strings.HasSuffix(*r.DataRoute, ".json") {
			continue
		}

		src := ""
		if r.SrcRoute != nil {
			src = *r.SrcRoute
		}

		if dr, ok := m.DynamicRoutes[src]; ok && dr.FallbackFalse() {
			routes[route] = struct{}{}
		}
	}

	return routes
}

// ReadPrerenderManifest reads manifest from parent of distribution directory.
func ReadPrerenderManifest(distDir string) (PrerenderManifest, error) {
	var m PrerenderManifest

	data, err := os.ReadFile(filepath.Join(distDir, "..", PrerenderManifestFile)) //nolint:gosec // Trusted build output.
	if err != nil {
		return m, err
	}

	err = json.Unmarshal(data, &m)

	return m, err
}

// ReadBuildID reads build identifier from parent of distribution directory.
func ReadBuildID(distDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(distDir, "..", BuildIDFile)) //nolint:gosec // Trusted build output.
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(data)), nil
}
