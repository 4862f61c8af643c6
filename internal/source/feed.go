package source

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mmcdole/gofeed"

	"patchbell/internal/catalog"
)

// FeedFetcher reads the first entry of an RSS, Atom or JSON feed.
type FeedFetcher struct {
	client *http.Client
}

func NewFeedFetcher(client *http.Client) *FeedFetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &FeedFetcher{client: client}
}

func (f *FeedFetcher) FetchLatest(ctx context.Context, src catalog.Source) (Item, error) {
	resp, err := get(ctx, f.client, src.Locator, "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")
	if err != nil {
		return Item{}, err
	}
	defer resp.Body.Close()

	// gofeed.Parser keeps per-parse state; one per call.
	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return Item{}, fmt.Errorf("parse feed: %w", err)
	}
	if len(feed.Items) == 0 || feed.Items[0] == nil {
		return Item{}, ErrNotAvailable
	}
	e := feed.Items[0]
	return newItem(e.Title, e.Link, e.GUID)
}
