package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"patchbell/internal/config"
	kit "patchbell/internal/transport"
	logx "patchbell/pkg/logx"
)

type sent struct {
	chat int64
	text string
}

type fakeAdapter struct {
	mu   sync.Mutex
	msgs []sent
	out  chan<- kit.Update
}

func (f *fakeAdapter) Start(_ context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{chat: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.msgs)}, nil
}

func (f *fakeAdapter) push(up kit.Update) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- up
}

func (f *fakeAdapter) waitFor(t *testing.T, chat int64, substr string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, m := range f.msgs {
			if m.chat == chat && strings.Contains(m.text, substr) {
				f.mu.Unlock()
				return
			}
		}
		f.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no message to chat %d containing %q; got %+v", chat, substr, f.snapshot())
}

func (f *fakeAdapter) snapshot() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.msgs...)
}

func TestAppDeliversChangeToSubscriber(t *testing.T) {
	steam := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("appid") != "730" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"appnews":{"newsitems":[{"gid":"1","title":"Release Notes 10/14","url":"https://example.com/n/1"}]}}`))
	}))
	defer steam.Close()

	statePath := filepath.Join(t.TempDir(), "state.json")
	seed := `{"subscriptions":{"42":["cs2"]},"last_updates":{}}`
	if err := os.WriteFile(statePath, []byte(seed), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cfg := &config.Config{
		Telegram: config.TelegramConfig{Token: "test"},
		Poller:   config.PollerConfig{Interval: "1h"},
		Storage:  config.StorageConfig{Driver: "file", Path: statePath},
		Sources: []config.SourceConfig{
			{Key: "cs2", Family: "steam", Locator: "730", Name: "Counter-Strike 2"},
		},
		SteamAPIBase: steam.URL,
	}
	settings, err := config.Resolve(cfg)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	cfgm := config.NewManager("")
	cfgm.Commit(cfg)

	ad := &fakeAdapter{}
	a, err := build(cfgm, settings, ad, nil, logx.Nop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	}()

	ad.waitFor(t, 42, "Release Notes 10/14")

	ad.push(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 7, FromID: 7, Text: "/games"}})
	ad.waitFor(t, 7, "cs2")
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	a := &App{}
	if err := a.Stop(context.Background(), StopSignal); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done should be closed for an app that never started")
	}
}
