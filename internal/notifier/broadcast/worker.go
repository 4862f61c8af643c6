package broadcast

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	kit "patchbell/internal/transport"
	logx "patchbell/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job) {
	for {
		// stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execJob(ctx, j)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job) {
	start := time.Now()
	s.setRunning(j.id)
	log := s.log.With(logx.String("job", j.id), logx.String("source", j.sourceKey))

	for _, sub := range j.targets {
		if ctx.Err() != nil {
			break
		}
		if err := s.sendOne(ctx, sub, j.text); err != nil {
			log.Warn("delivery failed", logx.String("subscriber", sub), logx.Err(err))
			s.markFail(j.id, sub)
			s.bump(func(st *Stats) { st.Failed++ })
		} else {
			s.bump(func(st *Stats) { st.Delivered++ })
		}
		s.markDone(j.id)
	}
	s.finish(j.id)

	if st, ok := s.Status(j.id); ok {
		fields := []logx.Field{
			logx.Int("total", st.Total),
			logx.Int("done", st.Done),
			logx.Int("failed", st.Failed),
			logx.Duration("dur", time.Since(start)),
		}
		if st.Failed > 0 || st.Done < st.Total {
			log.Warn("broadcast job finished with failures", fields...)
		} else {
			log.Info("broadcast job finished", fields...)
		}
	}
}

func (s *Service) sendOne(ctx context.Context, subscriberID, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(subscriberID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid subscriber id %q: %w", subscriberID, err)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	_, err = s.sender.SendText(sctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{})
	return err
}

func (s *Service) setRunning(id string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		st.StartedAt = time.Now()
		st.Running = true
	}
}

func (s *Service) markDone(id string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		st.Done++
	}
}

func (s *Service) markFail(id, sub string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		st.Failed++
		if len(st.Failures) < 200 {
			st.Failures = append(st.Failures, sub)
		}
	}
}

func (s *Service) finish(id string) {
	now := time.Now()
	s.statusMu.Lock()
	if st := s.status[id]; st != nil {
		st.DoneAt = now
		st.Running = false
	}
	s.statusMu.Unlock()
	s.pruneStatus(now)
}
