package poller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"patchbell/internal/source"
)

const DefaultInterval = 30 * time.Minute

// Event is one detected change of a source's latest item.
type Event struct {
	SourceKey  string
	SourceName string
	Title      string
	Link       string
	Identity   string
}

// Text renders the subscriber-facing notification.
func (e Event) Text() string {
	var b strings.Builder
	b.WriteString("🔔 Update: ")
	b.WriteString(e.SourceName)
	b.WriteString("\n")
	b.WriteString(e.Title)
	if e.Link != "" {
		b.WriteString("\n")
		b.WriteString(e.Link)
	}
	return b.String()
}

// Dispatcher hands a change event to the delivery layer. It must not block
// on per-recipient delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event, subscriberIDs []string) error
}

// IdentityMode selects which item field is the dedup key.
type IdentityMode string

const (
	// IdentityTitle compares title text.
	IdentityTitle IdentityMode = "title"
	// IdentityLink compares the item link, falling back to the title.
	IdentityLink IdentityMode = "link"
	// IdentityID compares the feed's item id, then link, then title.
	IdentityID IdentityMode = "id"
)

func ParseIdentityMode(s string) (IdentityMode, error) {
	switch m := IdentityMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return IdentityTitle, nil
	case IdentityTitle, IdentityLink, IdentityID:
		return m, nil
	default:
		return "", fmt.Errorf("unknown identity mode %q", s)
	}
}

func (m IdentityMode) of(it source.Item) string {
	switch m {
	case IdentityID:
		if it.ID != "" {
			return it.ID
		}
		fallthrough
	case IdentityLink:
		if it.Link != "" {
			return it.Link
		}
	}
	return it.Title
}

// Config controls the engine cadence.
type Config struct {
	// Interval is the sleep between the end of one cycle and the start of the next.
	Interval time.Duration
	// Schedule, when set, is a cron expression that triggers cycles instead of Interval.
	Schedule string
	Identity IdentityMode
}

// CycleReport summarizes one pass over the catalog.
type CycleReport struct {
	Started  time.Time
	Took     time.Duration
	Visited  int
	Changed  int
	Skipped  int
	Canceled bool
}

// Stats is a point-in-time view of the engine for status output.
type Stats struct {
	Cycles     uint64
	Changes    uint64
	Skips      uint64
	LastCycle  CycleReport
	LastChange map[string]time.Time
}
