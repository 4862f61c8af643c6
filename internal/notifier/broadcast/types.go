// Package broadcast delivers change events to subscribers.
//
// Dispatch enqueues one job per change event; a worker pool sends one
// message per subscriber under a shared rate limit. A failed recipient is
// logged and counted and never affects the others.
package broadcast

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "patchbell/internal/transport"
	logx "patchbell/pkg/logx"
)

const (
	defaultWorkers     = 4
	defaultQueueSize   = 256
	defaultRatePerSec  = 20
	defaultSendTimeout = 15 * time.Second
)

type Config struct {
	Workers     int
	QueueSize   int
	RatePerSec  int
	SendTimeout time.Duration
}

type job struct {
	id        string
	sourceKey string
	targets   []string // subscriber ids
	text      string
}

// JobStatus tracks delivery of one change event.
type JobStatus struct {
	ID        string    `json:"id"`
	SourceKey string    `json:"source_key"`
	Total     int       `json:"total"`
	Done      int       `json:"done"`
	Failed    int       `json:"failed"`
	Failures  []string  `json:"failures,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at"`
	DoneAt    time.Time `json:"done_at"`
	Running   bool      `json:"running"`
}

// Stats are lifetime delivery counters.
type Stats struct {
	Jobs      uint64 `json:"jobs"`
	Dropped   uint64 `json:"dropped"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	QueueLen  int    `json:"queue_len"`
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	sender kit.Sender
	log    logx.Logger

	limiter *rate.Limiter
	queue   chan job
	stopCh  chan struct{}
	// stopDone is non-nil while Stop() is in progress.
	stopDone chan struct{}

	statusMu  sync.RWMutex
	status    map[string]*JobStatus
	statusMax int
	statusTTL time.Duration

	statsMu sync.Mutex
	stats   Stats

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}
