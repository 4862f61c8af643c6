package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"patchbell/internal/catalog"
)

// DefaultSteamBase is the Steam Web API root.
const DefaultSteamBase = "https://api.steampowered.com"

// SteamFetcher reads the newest entry of ISteamNews/GetNewsForApp.
type SteamFetcher struct {
	client *http.Client
	base   string
}

func NewSteamFetcher(client *http.Client, base string) *SteamFetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = DefaultSteamBase
	}
	return &SteamFetcher{client: client, base: base}
}

type steamNews struct {
	AppNews struct {
		NewsItems []struct {
			GID   string `json:"gid"`
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"newsitems"`
	} `json:"appnews"`
}

func (f *SteamFetcher) newsURL(appID int64) string {
	q := url.Values{}
	q.Set("appid", fmt.Sprint(appID))
	q.Set("count", "1")
	return f.base + "/ISteamNews/GetNewsForApp/v2/?" + q.Encode()
}

func (f *SteamFetcher) FetchLatest(ctx context.Context, src catalog.Source) (Item, error) {
	appID, err := src.AppID()
	if err != nil {
		return Item{}, fmt.Errorf("invalid app id %q: %w", src.Locator, err)
	}
	resp, err := get(ctx, f.client, f.newsURL(appID), "application/json")
	if err != nil {
		return Item{}, err
	}
	defer resp.Body.Close()

	var news steamNews
	if err := json.NewDecoder(resp.Body).Decode(&news); err != nil {
		return Item{}, fmt.Errorf("decode steam news: %w", err)
	}
	if len(news.AppNews.NewsItems) == 0 {
		return Item{}, ErrNotAvailable
	}
	n := news.AppNews.NewsItems[0]
	return newItem(n.Title, n.URL, n.GID)
}
