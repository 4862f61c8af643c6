package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"patchbell/internal/poller"
	logx "patchbell/pkg/logx"
)

var ErrQueueFull = errors.New("broadcast queue full")

// Dispatch enqueues delivery of ev to every subscriber without waiting for it.
func (s *Service) Dispatch(ctx context.Context, ev poller.Event, subscriberIDs []string) error {
	_, err := s.enqueue(ctx, ev.SourceKey, subscriberIDs, ev.Text())
	return err
}

func (s *Service) enqueue(ctx context.Context, sourceKey string, targets []string, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := time.Now()
	id := "bc:" + uuid.NewString()
	s.pruneStatus(now)

	targets = append([]string(nil), targets...)
	s.statusMu.Lock()
	s.status[id] = &JobStatus{ID: id, SourceKey: sourceKey, Total: len(targets), CreatedAt: now}
	s.statusMu.Unlock()

	select {
	case s.queue <- job{id: id, sourceKey: sourceKey, targets: targets, text: text}:
		s.bump(func(st *Stats) { st.Jobs++ })
		s.log.Debug("broadcast job enqueued", logx.String("job", id), logx.String("source", sourceKey), logx.Int("total", len(targets)), logx.Int("queue_len", len(s.queue)))
		return id, nil
	default:
		s.bump(func(st *Stats) { st.Dropped++ })
		s.log.Warn("broadcast queue full; dropping job", logx.String("job", id), logx.String("source", sourceKey), logx.Int("total", len(targets)), logx.Int("queue_cap", cap(s.queue)))
		s.statusMu.Lock()
		if st := s.status[id]; st != nil {
			st.DoneAt = time.Now()
			st.Failed = st.Total
		}
		s.statusMu.Unlock()
		return id, fmt.Errorf("%w (cap=%d)", ErrQueueFull, cap(s.queue))
	}
}

// Status returns a copy of a job's delivery status.
func (s *Service) Status(jobID string) (JobStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[jobID]
	if !ok || st == nil {
		return JobStatus{}, false
	}
	cp := *st
	cp.Failures = append([]string(nil), st.Failures...)
	return cp, true
}

// Stats returns lifetime counters.
func (s *Service) Stats() Stats {
	s.statsMu.Lock()
	cp := s.stats
	s.statsMu.Unlock()
	cp.QueueLen = len(s.queue)
	return cp
}

func (s *Service) bump(fn func(st *Stats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}
