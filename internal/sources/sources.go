// Package sources loads the configured news sources.
//
// Sources are read from a JSON or OPML file, or from the bundled default list
// when no file is configured. They are not mutated at runtime.
package sources

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/model"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/opml"
)

//go:embed default_sources.json
var defaultSources []byte

// ErrInvalidSource is returned for a source missing its id or feed URL.
var ErrInvalidSource = errors.New("invalid news source")

// Loader returns the configured sources.
type Loader interface {
	Load() ([]model.NewsSource, error)
}

// FileLoader reads sources from Path. An empty Path loads the bundled list.
type FileLoader struct {
	Path string
}

// Load reads and validates the source list.
func (f FileLoader) Load() ([]model.NewsSource, error) {
	if f.Path == "" {
		return ParseJSON(bytes.NewReader(defaultSources))
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open sources: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".opml", ".xml":
		return ParseOPML(file)
	default:
		return ParseJSON(file)
	}
}

// ParseJSON decodes a JSON array of sources.
func ParseJSON(r io.Reader) ([]model.NewsSource, error) {
	var srcs []model.NewsSource
	if err := json.NewDecoder(r).Decode(&srcs); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	return normalize(srcs)
}

// ParseOPML converts an OPML subscription list into sources. The first folder
// level becomes the source type.
func ParseOPML(r io.Reader) ([]model.NewsSource, error) {
	entries, err := opml.Parse(r)
	if err != nil {
		return nil, err
	}
	srcs := make([]model.NewsSource, 0, len(entries))
	for _, e := range entries {
		typ := e.Type
		if len(e.FolderPath) > 0 {
			typ = e.FolderPath[0]
		}
		srcs = append(srcs, model.NewsSource{
			ID:   e.ID,
			Name: e.Title,
			Type: typ,
			URL:  e.URL,
		})
	}
	return normalize(srcs)
}

// normalize fills derived fields and rejects incomplete entries.
func normalize(srcs []model.NewsSource) ([]model.NewsSource, error) {
	seen := make(map[string]bool, len(srcs))
	out := make([]model.NewsSource, 0, len(srcs))
	for _, s := range srcs {
		s.URL = strings.TrimSpace(s.URL)
		if s.URL == "" {
			return nil, fmt.Errorf("%w: %q has no url", ErrInvalidSource, s.Name)
		}
		if s.Hostname == "" {
			u, err := url.Parse(s.URL)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSource, s.URL, err)
			}
			s.Hostname = u.Hostname()
		}
		s.Hostname = strings.ToLower(strings.TrimSpace(s.Hostname))
		if s.ID == "" {
			s.ID = slugify(s.Name)
		}
		if s.ID == "" {
			s.ID = slugify(s.Hostname)
		}
		if s.ID == "" {
			return nil, fmt.Errorf("%w: %q has no id", ErrInvalidSource, s.URL)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidSource, s.ID)
		}
		seen[s.ID] = true
		if s.Name == "" {
			s.Name = s.ID
		}
		if s.Type == "" {
			s.Type = "rss"
		}
		out = append(out, s)
	}
	return out, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// slugify folds diacritics and joins runs of anything but ASCII letters and
// digits with "-".
func slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(folded), "-"), "-")
}

// CachedLoader loads once and serves the result for the life of the process.
// Failed loads are not cached.
type CachedLoader struct {
	next Loader

	mu      sync.Mutex
	sources []model.NewsSource
	loaded  bool
}

// NewCachedLoader wraps next.
func NewCachedLoader(next Loader) *CachedLoader {
	return &CachedLoader{next: next}
}

// Load returns the cached list, loading it on first use.
func (c *CachedLoader) Load() ([]model.NewsSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.sources, nil
	}
	srcs, err := c.next.Load()
	if err != nil {
		return nil, err
	}
	c.sources = srcs
	c.loaded = true
	return srcs, nil
}

// Static is a Loader over a fixed list.
type Static []model.NewsSource

// Load returns the list.
func (s Static) Load() ([]model.NewsSource, error) {
	return []model.NewsSource(s), nil
}
