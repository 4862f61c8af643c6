package eventbus

import "time"

// Event types published by the poller.
const (
	TypeSourceChanged = "source.changed"
	TypeCycleDone     = "poll.cycle"
)

// SourceChanged is the Data of a TypeSourceChanged event.
type SourceChanged struct {
	SourceKey   string
	Title       string
	Link        string
	Subscribers int
}

// CycleDone is the Data of a TypeCycleDone event.
type CycleDone struct {
	Visited  int
	Changed  int
	Skipped  int
	Took     time.Duration
	Canceled bool
}
