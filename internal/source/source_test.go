package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"patchbell/internal/catalog"
)

const rssDoc = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>News</title>
<item><title>  Patch 14.2 notes </title><link>https://example.com/14.2</link><guid>post-142</guid></item>
<item><title>Older</title><link>https://example.com/14.1</link></item>
</channel></rss>`

const atomDoc = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"><title>Atom</title>
<entry><title>Season 3</title><link href="https://example.com/s3"/><id>urn:s3</id></entry>
</feed>`

func TestSteamFetcherTakesFirstItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ISteamNews/GetNewsForApp/v2/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("appid"); got != "730" {
			t.Errorf("appid = %q", got)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing user agent")
		}
		_, _ = w.Write([]byte(`{"appnews":{"appid":730,"newsitems":[{"gid":"99","title":" Patch 1.2 notes ","url":"http://x/1.2"}]}}`))
	}))
	defer srv.Close()

	f := NewSteamFetcher(srv.Client(), srv.URL)
	it, err := f.FetchLatest(context.Background(), catalog.Source{Key: "cs2", Family: catalog.NumericFeed, Locator: "730"})
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if it.Title != "Patch 1.2 notes" || it.Link != "http://x/1.2" || it.ID != "99" {
		t.Fatalf("unexpected item %+v", it)
	}
}

func TestSteamFetcherEmptyAndErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		status  int
		body    string
		notAvai bool
	}{
		{name: "no items", status: 200, body: `{"appnews":{"newsitems":[]}}`, notAvai: true},
		{name: "missing appnews", status: 200, body: `{}`, notAvai: true},
		{name: "blank title", status: 200, body: `{"appnews":{"newsitems":[{"title":"  "}]}}`, notAvai: true},
		{name: "server error", status: 500, body: `oops`},
		{name: "malformed", status: 200, body: `{"appnews":`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			_, err := NewSteamFetcher(srv.Client(), srv.URL).FetchLatest(context.Background(),
				catalog.Source{Key: "dota", Family: catalog.NumericFeed, Locator: "570"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrNotAvailable); got != tt.notAvai {
				t.Fatalf("errors.Is(ErrNotAvailable) = %v, want %v (err=%v)", got, tt.notAvai, err)
			}
		})
	}
}

func TestFeedFetcherRSSAndAtom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rss":
			w.Header().Set("Content-Type", "application/rss+xml")
			_, _ = w.Write([]byte(rssDoc))
		case "/atom":
			w.Header().Set("Content-Type", "application/atom+xml")
			_, _ = w.Write([]byte(atomDoc))
		case "/empty":
			_, _ = w.Write([]byte(`<rss version="2.0"><channel><title>x</title></channel></rss>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFeedFetcher(srv.Client())
	ctx := context.Background()

	it, err := f.FetchLatest(ctx, catalog.Source{Key: "lol", Family: catalog.SyndicationFeed, Locator: srv.URL + "/rss"})
	if err != nil {
		t.Fatalf("rss: %v", err)
	}
	if it.Title != "Patch 14.2 notes" || it.Link != "https://example.com/14.2" || it.ID != "post-142" {
		t.Fatalf("rss item %+v", it)
	}

	it, err = f.FetchLatest(ctx, catalog.Source{Key: "val", Family: catalog.SyndicationFeed, Locator: srv.URL + "/atom"})
	if err != nil {
		t.Fatalf("atom: %v", err)
	}
	if it.Title != "Season 3" || it.Link != "https://example.com/s3" {
		t.Fatalf("atom item %+v", it)
	}

	_, err = f.FetchLatest(ctx, catalog.Source{Key: "e", Family: catalog.SyndicationFeed, Locator: srv.URL + "/empty"})
	if !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("empty feed err = %v", err)
	}
	_, err = f.FetchLatest(ctx, catalog.Source{Key: "m", Family: catalog.SyndicationFeed, Locator: srv.URL + "/missing"})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("missing feed err = %v", err)
	}
}

func TestMuxAppliesTimeout(t *testing.T) {
	slow := FetcherFunc(func(ctx context.Context, src catalog.Source) (Item, error) {
		<-ctx.Done()
		return Item{}, ctx.Err()
	})
	m := NewMux(20*time.Millisecond).Handle(catalog.NumericFeed, slow)

	start := time.Now()
	_, err := m.FetchLatest(context.Background(), catalog.Source{Key: "cs2", Family: catalog.NumericFeed, Locator: "730"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout not applied")
	}

	_, err = m.FetchLatest(context.Background(), catalog.Source{Key: "lol", Family: catalog.SyndicationFeed})
	if err == nil {
		t.Fatal("expected error for unregistered family")
	}
}
