package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// AddResult reports whether AddSubscription changed anything.
type AddResult int

const (
	Added AddResult = iota + 1
	AlreadyExists
)

func (r AddResult) String() string {
	switch r {
	case Added:
		return "added"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// RemoveResult reports whether RemoveSubscription changed anything.
type RemoveResult int

const (
	Removed RemoveResult = iota + 1
	NotFound
)

func (r RemoveResult) String() string {
	switch r {
	case Removed:
		return "removed"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Store is the subscription + last-seen persistence API.
//
// Mutations are durable when they return nil. SetLastSeen overwrites
// unconditionally; compare-then-set is the caller's job.
type Store interface {
	AddSubscription(ctx context.Context, subscriberID, sourceKey string) (AddResult, error)
	RemoveSubscription(ctx context.Context, subscriberID, sourceKey string) (RemoveResult, error)
	ListSubscriptions(ctx context.Context, subscriberID string) ([]string, error)
	ListSubscribers(ctx context.Context, sourceKey string) ([]string, error)

	GetLastSeen(ctx context.Context, sourceKey string) (identity string, ok bool, err error)
	SetLastSeen(ctx context.Context, sourceKey, identity string) error

	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON document at Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
