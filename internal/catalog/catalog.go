// Package catalog holds the fixed, ordered set of news sources the bot polls.
//
// The catalog is loaded once at startup and never mutated afterwards.
package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrUnknownSource is returned by Find for keys outside the catalog.
var ErrUnknownSource = errors.New("unknown source")

// Family selects which source adapter fetches a source.
type Family int

const (
	// NumericFeed is a news API addressed by a numeric application id (Steam).
	NumericFeed Family = iota + 1
	// SyndicationFeed is an RSS/Atom/JSON feed addressed by URL.
	SyndicationFeed
)

func (f Family) String() string {
	switch f {
	case NumericFeed:
		return "numeric"
	case SyndicationFeed:
		return "syndication"
	default:
		return "unknown"
	}
}

// ParseFamily accepts the config spellings of a family.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "numeric", "steam":
		return NumericFeed, nil
	case "syndication", "rss", "atom", "feed", "epic", "riot":
		return SyndicationFeed, nil
	default:
		return 0, fmt.Errorf("unknown source family %q", s)
	}
}

// Source describes one polled feed.
type Source struct {
	Key     string
	Family  Family
	Locator string // app id for NumericFeed, URL for SyndicationFeed
	Name    string
}

// AppID returns the numeric locator of a NumericFeed source.
func (s Source) AppID() (int64, error) {
	return strconv.ParseInt(s.Locator, 10, 64)
}

func (s Source) validate() error {
	if s.Key == "" {
		return errors.New("source key is empty")
	}
	if strings.ContainsAny(s.Key, " \t\n") {
		return fmt.Errorf("source %q: key must not contain whitespace", s.Key)
	}
	switch s.Family {
	case NumericFeed:
		id, err := s.AppID()
		if err != nil || id <= 0 {
			return fmt.Errorf("source %q: locator %q is not a positive app id", s.Key, s.Locator)
		}
	case SyndicationFeed:
		u, err := url.Parse(s.Locator)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("source %q: locator %q is not an http(s) URL", s.Key, s.Locator)
		}
	default:
		return fmt.Errorf("source %q: unknown family", s.Key)
	}
	return nil
}

// Catalog is an immutable, ordered list of sources.
type Catalog struct {
	sources []Source
	index   map[string]int
}

// New validates sources and builds a catalog preserving their order.
// Keys are normalized to lower case; a missing Name defaults to the key.
func New(sources []Source) (*Catalog, error) {
	if len(sources) == 0 {
		return nil, errors.New("catalog is empty")
	}
	c := &Catalog{
		sources: make([]Source, 0, len(sources)),
		index:   make(map[string]int, len(sources)),
	}
	for _, s := range sources {
		s.Key = normalizeKey(s.Key)
		s.Locator = strings.TrimSpace(s.Locator)
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			s.Name = s.Key
		}
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.index[s.Key]; dup {
			return nil, fmt.Errorf("duplicate source key %q", s.Key)
		}
		c.index[s.Key] = len(c.sources)
		c.sources = append(c.sources, s)
	}
	return c, nil
}

// All returns the sources in catalog order.
func (c *Catalog) All() []Source {
	return append([]Source(nil), c.sources...)
}

// Keys returns the source keys in catalog order.
func (c *Catalog) Keys() []string {
	out := make([]string, len(c.sources))
	for i, s := range c.sources {
		out[i] = s.Key
	}
	return out
}

func (c *Catalog) Len() int { return len(c.sources) }

// Lookup finds a source by key (case-insensitive).
func (c *Catalog) Lookup(key string) (Source, bool) {
	i, ok := c.index[normalizeKey(key)]
	if !ok {
		return Source{}, false
	}
	return c.sources[i], true
}

// Find is Lookup with an error: unknown keys wrap ErrUnknownSource.
func (c *Catalog) Find(key string) (Source, error) {
	s, ok := c.Lookup(key)
	if !ok {
		return Source{}, fmt.Errorf("%w: %q", ErrUnknownSource, normalizeKey(key))
	}
	return s, nil
}

func normalizeKey(k string) string { return strings.ToLower(strings.TrimSpace(k)) }
