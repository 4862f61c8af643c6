package eventbus

import "testing"

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeSourceChanged, Data: SourceChanged{SourceKey: "cs2"}})
	b.Publish(Event{Type: TypeCycleDone})

	e := <-a
	if e.Type != TypeSourceChanged || e.Time.IsZero() {
		t.Fatalf("unexpected first event %+v", e)
	}
	select {
	case extra := <-a:
		t.Fatalf("buffer of 1 should have dropped, got %+v", extra)
	default:
	}
	if len(c) != 2 {
		t.Fatalf("second subscriber got %d events, want 2", len(c))
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
	b.Publish(Event{Type: TypeCycleDone})
}
