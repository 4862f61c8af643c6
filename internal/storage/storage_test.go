package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	logx "patchbell/pkg/logx"
)

type opener func(t *testing.T, path string) Store

type driverCase struct {
	file string
	open opener
}

func drivers() map[string]driverCase {
	return map[string]driverCase{
		"file": {file: "state.json", open: func(t *testing.T, path string) Store {
			st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("open file store: %v", err)
			}
			return st
		}},
		"sqlite": {file: "state.db", open: func(t *testing.T, path string) Store {
			st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			return st
		}},
	}
}

func TestStoreContract(t *testing.T) {
	for name, d := range drivers() {
		d := d
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), d.file)
			st := d.open(t, path)

			if got, err := st.ListSubscriptions(ctx, "nobody"); err != nil || len(got) != 0 {
				t.Fatalf("ListSubscriptions(unknown) = %v, %v", got, err)
			}

			if r, err := st.AddSubscription(ctx, "42", "cs2"); err != nil || r != Added {
				t.Fatalf("AddSubscription = %v, %v", r, err)
			}
			if r, err := st.AddSubscription(ctx, "42", "cs2"); err != nil || r != AlreadyExists {
				t.Fatalf("duplicate AddSubscription = %v, %v", r, err)
			}
			if _, err := st.AddSubscription(ctx, "42", "dota"); err != nil {
				t.Fatalf("AddSubscription dota: %v", err)
			}
			if _, err := st.AddSubscription(ctx, "7", "cs2"); err != nil {
				t.Fatalf("AddSubscription 7: %v", err)
			}

			subs, err := st.ListSubscriptions(ctx, "42")
			if err != nil || !reflect.DeepEqual(subs, []string{"cs2", "dota"}) {
				t.Fatalf("ListSubscriptions(42) = %v, %v", subs, err)
			}
			who, err := st.ListSubscribers(ctx, "cs2")
			if err != nil || !reflect.DeepEqual(who, []string{"42", "7"}) {
				t.Fatalf("ListSubscribers(cs2) = %v, %v", who, err)
			}

			if r, err := st.RemoveSubscription(ctx, "42", "cs2"); err != nil || r != Removed {
				t.Fatalf("RemoveSubscription = %v, %v", r, err)
			}
			if r, err := st.RemoveSubscription(ctx, "42", "cs2"); err != nil || r != NotFound {
				t.Fatalf("second RemoveSubscription = %v, %v", r, err)
			}
			subs, _ = st.ListSubscriptions(ctx, "42")
			if !reflect.DeepEqual(subs, []string{"dota"}) {
				t.Fatalf("after remove: %v", subs)
			}
			who, _ = st.ListSubscribers(ctx, "cs2")
			if !reflect.DeepEqual(who, []string{"7"}) {
				t.Fatalf("subscribers after remove: %v", who)
			}

			if _, ok, err := st.GetLastSeen(ctx, "cs2"); err != nil || ok {
				t.Fatalf("GetLastSeen on empty = %v, %v", ok, err)
			}
			if err := st.SetLastSeen(ctx, "cs2", "Patch 1.2 notes"); err != nil {
				t.Fatalf("SetLastSeen: %v", err)
			}
			if err := st.SetLastSeen(ctx, "cs2", "Patch 1.3 notes"); err != nil {
				t.Fatalf("SetLastSeen overwrite: %v", err)
			}

			// Restart: reopen from disk.
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			st = d.open(t, path)
			defer st.Close()

			subs, _ = st.ListSubscriptions(ctx, "42")
			if !reflect.DeepEqual(subs, []string{"dota"}) {
				t.Fatalf("after restart ListSubscriptions(42) = %v", subs)
			}
			who, _ = st.ListSubscribers(ctx, "cs2")
			if !reflect.DeepEqual(who, []string{"7"}) {
				t.Fatalf("after restart ListSubscribers(cs2) = %v", who)
			}
			id, ok, err := st.GetLastSeen(ctx, "cs2")
			if err != nil || !ok || id != "Patch 1.3 notes" {
				t.Fatalf("after restart GetLastSeen = %q, %v, %v", id, ok, err)
			}
		})
	}
}

func TestStoreConcurrentMutations(t *testing.T) {
	for name, d := range drivers() {
		d := d
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), d.file)
			st := d.open(t, path)

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(2)
				go func(i int) {
					defer wg.Done()
					if _, err := st.AddSubscription(ctx, "u", string(rune('a'+i))); err != nil {
						t.Errorf("add: %v", err)
					}
				}(i)
				go func(i int) {
					defer wg.Done()
					if err := st.SetLastSeen(ctx, "src", string(rune('a'+i))); err != nil {
						t.Errorf("set: %v", err)
					}
				}(i)
			}
			wg.Wait()
			_ = st.Close()

			st = d.open(t, path)
			defer st.Close()
			subs, _ := st.ListSubscriptions(ctx, "u")
			if len(subs) != 20 {
				t.Fatalf("lost updates: %d subscriptions persisted", len(subs))
			}
			if _, ok, _ := st.GetLastSeen(ctx, "src"); !ok {
				t.Fatal("last seen not persisted")
			}
		})
	}
}

func TestFileStoreCorruptStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open on corrupt file: %v", err)
	}
	defer st.Close()
	subs, err := st.ListSubscriptions(context.Background(), "42")
	if err != nil || len(subs) != 0 {
		t.Fatalf("expected empty state, got %v, %v", subs, err)
	}
}

func TestFileStoreDocumentLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	legacy := `{"subscriptions": {"42": ["cs2", "lol"]}, "last_updates": {"cs2": "Patch 1.2 notes"}}`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	who, _ := st.ListSubscribers(ctx, "lol")
	if !reflect.DeepEqual(who, []string{"42"}) {
		t.Fatalf("ListSubscribers(lol) = %v", who)
	}
	if _, err := st.AddSubscription(ctx, "43", "dota"); err != nil {
		t.Fatalf("add: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Subscriptions map[string][]string `json:"subscriptions"`
		LastUpdates   map[string]string   `json:"last_updates"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("written document is not JSON: %v", err)
	}
	if !reflect.DeepEqual(doc.Subscriptions["42"], []string{"cs2", "lol"}) ||
		!reflect.DeepEqual(doc.Subscriptions["43"], []string{"dota"}) ||
		doc.LastUpdates["cs2"] != "Patch 1.2 notes" {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestFileStoreWriteFailureRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	st, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if _, err := st.AddSubscription(ctx, "7", "dota"); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	if err := st.SetLastSeen(ctx, "dota", "old"); err != nil {
		t.Fatalf("SetLastSeen: %v", err)
	}

	// A directory where the temp file should go makes every write fail.
	tmp := path + ".tmp"
	if err := os.Mkdir(tmp, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := st.SetLastSeen(ctx, "cs2", "x"); err == nil {
		t.Fatal("expected SetLastSeen to report the write failure")
	}
	if _, ok, _ := st.GetLastSeen(ctx, "cs2"); ok {
		t.Fatal("failed SetLastSeen must not leave a last seen value")
	}
	if err := st.SetLastSeen(ctx, "dota", "new"); err == nil {
		t.Fatal("expected SetLastSeen to report the write failure")
	}
	if id, _, _ := st.GetLastSeen(ctx, "dota"); id != "old" {
		t.Fatalf("GetLastSeen(dota) = %q, want previous value", id)
	}

	if _, err := st.AddSubscription(ctx, "42", "cs2"); err == nil {
		t.Fatal("expected AddSubscription to report the write failure")
	}
	if subs, _ := st.ListSubscribers(ctx, "cs2"); len(subs) != 0 {
		t.Fatalf("ListSubscribers(cs2) = %v, want empty", subs)
	}
	if _, err := st.RemoveSubscription(ctx, "7", "dota"); err == nil {
		t.Fatal("expected RemoveSubscription to report the write failure")
	}
	if subs, _ := st.ListSubscribers(ctx, "dota"); !reflect.DeepEqual(subs, []string{"7"}) {
		t.Fatalf("ListSubscribers(dota) = %v, want [7]", subs)
	}

	// Once the disk recovers, a retry goes through as a fresh add.
	if err := os.Remove(tmp); err != nil {
		t.Fatal(err)
	}
	res, err := st.AddSubscription(ctx, "42", "cs2")
	if err != nil || res != Added {
		t.Fatalf("AddSubscription after recovery = %v, %v", res, err)
	}
}

func TestClosedFileStore(t *testing.T) {
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "s.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	_ = st.Close()
	if _, err := st.AddSubscription(context.Background(), "1", "cs2"); err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}
