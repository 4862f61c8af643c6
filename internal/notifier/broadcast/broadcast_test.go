package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"patchbell/internal/poller"
	kit "patchbell/internal/transport"
	logx "patchbell/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []int64
	fail map[int64]bool
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, _ string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[to.ChatID] {
		return kit.MessageRef{}, errors.New("forbidden: bot was blocked by the user")
	}
	f.sent = append(f.sent, to.ChatID)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) delivered() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]int64(nil), f.sent...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var _ poller.Dispatcher = (*Service)(nil)

func testEvent() poller.Event {
	return poller.Event{SourceKey: "cs2", SourceName: "Counter-Strike 2", Title: "Release Notes", Link: "https://example.com/n/1", Identity: "Release Notes"}
}

func waitDone(t *testing.T, s *Service, id string) JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st, ok := s.Status(id); ok && !st.DoneAt.IsZero() {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return JobStatus{}
}

func TestDispatchDeliversToEverySubscriber(t *testing.T) {
	fs := &fakeSender{}
	s := New(Config{Workers: 2, RatePerSec: 1000}, fs, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	id, err := s.enqueue(ctx, "cs2", []string{"101", "102", "103"}, testEvent().Text())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	st := waitDone(t, s, id)
	if st.Done != 3 || st.Failed != 0 {
		t.Fatalf("status = %+v, want done=3 failed=0", st)
	}
	got := fs.delivered()
	want := []int64{101, 102, 103}
	if len(got) != len(want) {
		t.Fatalf("delivered = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivered = %v, want %v", got, want)
		}
	}
}

func TestFailedRecipientDoesNotAffectOthers(t *testing.T) {
	fs := &fakeSender{fail: map[int64]bool{2: true}}
	s := New(Config{Workers: 1, RatePerSec: 1000}, fs, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	id, err := s.enqueue(ctx, "cs2", []string{"1", "2", "3"}, "x")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	st := waitDone(t, s, id)
	if st.Failed != 1 || len(st.Failures) != 1 || st.Failures[0] != "2" {
		t.Fatalf("status = %+v, want one failure for 2", st)
	}
	got := fs.delivered()
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("delivered = %v, want [1 3]", got)
	}
	stats := s.Stats()
	if stats.Delivered != 2 || stats.Failed != 1 || stats.Jobs != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestInvalidSubscriberIDFailsOnlyThatTarget(t *testing.T) {
	fs := &fakeSender{}
	s := New(Config{Workers: 1, RatePerSec: 1000}, fs, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	id, err := s.enqueue(ctx, "dota", []string{"abc", "-100200"}, "x")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	st := waitDone(t, s, id)
	if st.Failed != 1 || st.Failures[0] != "abc" {
		t.Fatalf("status = %+v", st)
	}
	if got := fs.delivered(); len(got) != 1 || got[0] != -100200 {
		t.Fatalf("delivered = %v", got)
	}
}

func TestDispatchQueueFull(t *testing.T) {
	s := New(Config{QueueSize: 1}, &fakeSender{}, logx.Nop())
	ctx := context.Background()

	if err := s.Dispatch(ctx, testEvent(), []string{"1"}); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	err := s.Dispatch(ctx, testEvent(), []string{"1"})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second dispatch err = %v, want ErrQueueFull", err)
	}
	if st := s.Stats(); st.Dropped != 1 || st.QueueLen != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestJobsQueuedBeforeStartAreDelivered(t *testing.T) {
	fs := &fakeSender{}
	s := New(Config{Workers: 1, RatePerSec: 1000}, fs, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := s.enqueue(ctx, "cs2", []string{"7"}, "x")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got := s.Stats().QueueLen; got != 1 {
		t.Fatalf("queue len = %d, want 1", got)
	}
	s.Start(ctx)
	defer s.Stop(context.Background())

	st := waitDone(t, s, id)
	if st.Done != 1 {
		t.Fatalf("status = %+v", st)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(Config{}, &fakeSender{}, logx.Nop())
	s.Stop(context.Background())
	s.Start(context.Background())
	s.Stop(context.Background())
	s.Stop(context.Background())
}

func TestPruneStatusBounded(t *testing.T) {
	s := New(Config{QueueSize: 1}, &fakeSender{}, logx.Nop())
	s.statusMax = 3
	now := time.Now()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		s.status[id] = &JobStatus{ID: id, CreatedAt: now.Add(time.Duration(i) * time.Second), DoneAt: now.Add(time.Duration(i) * time.Second)}
	}
	s.status["old"] = &JobStatus{ID: "old", DoneAt: now.Add(-48 * time.Hour)}
	s.pruneStatus(now.Add(10 * time.Second))

	if len(s.status) != 3 {
		t.Fatalf("len(status) = %d, want 3", len(s.status))
	}
	for _, id := range []string{"c", "d", "e"} {
		if _, ok := s.status[id]; !ok {
			t.Fatalf("expected %s to survive prune", id)
		}
	}
}
