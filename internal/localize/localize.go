// Package localize rewrites remote and symbolic resource URLs found in test
// styles into file URLs under the local fixture tree.
package localize

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	fileScheme    = "file://"
	mbtilesScheme = "mbtiles://"

	localPrefix  = "local://"
	httpPrefix   = "http://localhost:2900"
	mapboxPrefix = "mapbox://"
	fontsPrefix  = "mapbox://fonts"
)

// Paths is the resolved fixture layout. It is built once at startup and passed
// to every component that needs to resolve a fixture path.
type Paths struct {
	Root        string
	Vendor      string
	Integration string
}

// NewPaths derives the default layout under root.
func NewPaths(root string) Paths {
	return Paths{
		Root:        root,
		Vendor:      filepath.Join(root, "vendor"),
		Integration: filepath.Join(root, "integration"),
	}
}

// IntegrationFile joins a relative fixture path onto the integration directory.
func (p Paths) IntegrationFile(rel string) string {
	return filepath.Join(p.Integration, rel)
}

func removeURLArguments(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// resolve replaces prefix with base and accepts the result when its parent
// directory exists (or its grandparent, for glyph templates).
func resolve(url, prefix, base string, glyphs bool) (string, bool) {
	rest, ok := strings.CutPrefix(url, prefix)
	if !ok {
		return "", false
	}
	file := strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(rest, "/")
	file = removeURLArguments(file)

	parent := filepath.Dir(file)
	if exists(parent) {
		return file, true
	}
	if glyphs && exists(filepath.Dir(parent)) {
		return file, true
	}
	return "", false
}

func (p Paths) vendorPath(url, prefix string, glyphs bool) (string, bool) {
	return resolve(url, prefix, p.Vendor, glyphs)
}

func (p Paths) integrationPath(url, parent, prefix string, glyphs bool) (string, bool) {
	return resolve(url, prefix, filepath.Join(p.Integration, parent), glyphs)
}

func (p Paths) local(url string, glyphs bool) (string, bool) {
	if f, ok := p.vendorPath(url, localPrefix, glyphs); ok {
		return f, true
	}
	return p.integrationPath(url, "", localPrefix, glyphs)
}

func (p Paths) http(url string) (string, bool) {
	if f, ok := p.vendorPath(url, httpPrefix, false); ok {
		return f, true
	}
	return p.integrationPath(url, "", httpPrefix, false)
}

func (p Paths) mapboxSprite(url string) (string, bool) {
	return p.integrationPath(url, "", mapboxPrefix, false)
}

func (p Paths) mapboxFonts(url string) (string, bool) {
	return p.integrationPath(url, "glyphs", fontsPrefix, true)
}

func (p Paths) mapboxTiles(url string) (string, bool) {
	if f, ok := p.vendorPath(url, mapboxPrefix, false); ok {
		return f, true
	}
	return p.integrationPath(url, "tiles", mapboxPrefix, false)
}

func (p Paths) mapboxTileset(url string) (string, bool) {
	return p.integrationPath(url, "tilesets", mapboxPrefix, false)
}

func (p Paths) mbtiles(url string) (string, bool) {
	rest, ok := strings.CutPrefix(url, mbtilesScheme)
	if !ok || filepath.IsAbs(rest) {
		return "", false
	}
	for _, base := range []string{p.Vendor, p.Integration} {
		if f := filepath.Join(base, rest); exists(f) {
			return mbtilesScheme + f, true
		}
	}
	return "", false
}

func localized(url string) bool {
	return strings.HasPrefix(url, fileScheme) || strings.HasPrefix(url, mbtilesScheme)
}

func first(url string, resolvers ...func(string) (string, bool)) string {
	for _, r := range resolvers {
		if f, ok := r(url); ok {
			return f
		}
	}
	return url
}

// withFileScheme prepends file:// unless the URL already carries a local scheme.
func withFileScheme(url string) string {
	if localized(url) {
		return url
	}
	return fileScheme + url
}

// URL resolves a local:// style URL to a plain filesystem path. URLs that do
// not resolve are returned unchanged.
func (p Paths) URL(url string) string {
	if f, ok := p.local(url, false); ok {
		return f
	}
	return url
}

// SourceURLs localizes the url, urls, tiles and data members of one source
// object in place. A url that resolves to a tileset document is replaced by
// the tileset's tiles.
func (p Paths) SourceURLs(src map[string]any) {
	localTileset := func(u string) (string, bool) { return p.mapboxTileset(u) }
	localFile := func(u string) (string, bool) { return p.local(u, false) }

	if urls, ok := src["urls"].([]any); ok {
		for i, u := range urls {
			s, ok := u.(string)
			if !ok || localized(s) {
				continue
			}
			urls[i] = withFileScheme(first(s, localTileset, localFile))
		}
	}

	if u, ok := src["url"].(string); ok {
		if f, ok := p.mbtiles(u); ok {
			u = f
			src["url"] = u
		} else if !localized(u) {
			u = withFileScheme(first(u, localTileset, localFile))
			src["url"] = u
		}
		if path, ok := strings.CutPrefix(u, fileScheme); ok {
			if tileset, err := ReadJSON(path); err == nil {
				if tiles, ok := tileset["tiles"].([]any); ok {
					src["tiles"] = tiles
					delete(src, "url")
				}
			}
		}
	}

	if tiles, ok := src["tiles"].([]any); ok {
		for i, t := range tiles {
			s, ok := t.(string)
			if !ok {
				continue
			}
			if f, ok := p.mbtiles(s); ok {
				tiles[i] = f
				continue
			}
			if localized(s) {
				continue
			}
			tiles[i] = withFileScheme(first(s, p.mapboxTiles, localFile, p.http))
		}
	}

	if data, ok := src["data"].(string); ok && !localized(data) {
		src["data"] = withFileScheme(first(data, localFile))
	}
}

// StyleURLs localizes every source plus the glyphs and sprite URLs of a style
// document in place. Localizing an already localized document is a no-op.
func (p Paths) StyleURLs(doc map[string]any) {
	if sources, ok := doc["sources"].(map[string]any); ok {
		for _, raw := range sources {
			if src, ok := raw.(map[string]any); ok {
				p.SourceURLs(src)
			}
		}
	}

	if glyphs, ok := doc["glyphs"].(string); ok && !localized(glyphs) {
		doc["glyphs"] = withFileScheme(first(glyphs, p.mapboxFonts, func(u string) (string, bool) { return p.local(u, true) }))
	}

	if sprite, ok := doc["sprite"].(string); ok && !localized(sprite) {
		doc["sprite"] = withFileScheme(first(sprite, p.mapboxSprite, func(u string) (string, bool) { return p.local(u, false) }))
	}
}

// ReadJSON reads a JSON object from disk.
func ReadJSON(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open file %s: %w", path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}
