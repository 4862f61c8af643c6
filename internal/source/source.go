// Package source fetches the latest item of a catalog source.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"patchbell/internal/catalog"
)

// ErrNotAvailable means the feed answered but had no usable latest item.
var ErrNotAvailable = errors.New("no items available")

const userAgent = "patchbell/1.0 (+game update notifier)"

// DefaultTimeout bounds a single fetch when the caller does not set one.
const DefaultTimeout = 20 * time.Second

// Item is the latest entry of a source.
type Item struct {
	Title string
	Link  string
	// ID is a stable per-item identifier when the feed provides one
	// (Steam gid, feed GUID). May be empty.
	ID string
}

// Fetcher returns the current latest item of a source.
type Fetcher interface {
	FetchLatest(ctx context.Context, src catalog.Source) (Item, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, src catalog.Source) (Item, error)

func (f FetcherFunc) FetchLatest(ctx context.Context, src catalog.Source) (Item, error) {
	return f(ctx, src)
}

// Mux routes a fetch to the adapter registered for the source family and
// bounds it with a per-call timeout.
type Mux struct {
	byFamily map[catalog.Family]Fetcher
	timeout  time.Duration
}

func NewMux(timeout time.Duration) *Mux {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Mux{byFamily: map[catalog.Family]Fetcher{}, timeout: timeout}
}

// Handle registers f for family, replacing any previous adapter.
func (m *Mux) Handle(family catalog.Family, f Fetcher) *Mux {
	m.byFamily[family] = f
	return m
}

func (m *Mux) FetchLatest(ctx context.Context, src catalog.Source) (Item, error) {
	f, ok := m.byFamily[src.Family]
	if !ok {
		return Item{}, fmt.Errorf("source %s: no adapter for family %s", src.Key, src.Family)
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	it, err := f.FetchLatest(ctx, src)
	if err != nil {
		return Item{}, fmt.Errorf("source %s: %w", src.Key, err)
	}
	return it, nil
}

// NewDefaultMux wires the Steam and syndication adapters over a shared client.
func NewDefaultMux(timeout time.Duration, steamBase string) *Mux {
	client := &http.Client{Timeout: timeoutOrDefault(timeout)}
	return NewMux(timeout).
		Handle(catalog.NumericFeed, NewSteamFetcher(client, steamBase)).
		Handle(catalog.SyndicationFeed, NewFeedFetcher(client))
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

func get(ctx context.Context, client *http.Client, url string, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return resp, nil
}

func newItem(title, link, id string) (Item, error) {
	it := Item{Title: strings.TrimSpace(title), Link: strings.TrimSpace(link), ID: strings.TrimSpace(id)}
	if it.Title == "" {
		return Item{}, ErrNotAvailable
	}
	return it, nil
}
