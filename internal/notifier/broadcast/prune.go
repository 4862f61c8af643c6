package broadcast

import (
	"sort"
	"time"
)

// Status retention; one job per change event.
const (
	defaultStatusMax = 200
	defaultStatusTTL = 24 * time.Hour
)

func (s *Service) pruneStatus(now time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	limit := s.statusMax
	if limit <= 0 {
		limit = defaultStatusMax
	}
	ttl := s.statusTTL
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}

	if len(s.status) == 0 {
		return
	}

	// 1) Drop completed jobs older than TTL.
	for id, st := range s.status {
		if st == nil {
			delete(s.status, id)
			continue
		}
		// Running jobs are never expired by age.
		if st.Running {
			continue
		}
		ref := st.DoneAt
		if ref.IsZero() {
			ref = st.CreatedAt
		}
		if now.Sub(ref) > ttl {
			delete(s.status, id)
		}
	}

	if len(s.status) <= limit {
		return
	}

	// 2) Still too big: drop the oldest finished jobs first.
	type kv struct {
		id string
		t  time.Time
	}

	items := make([]kv, 0, len(s.status))
	for id, st := range s.status {
		if st == nil || st.Running {
			continue
		}
		t := st.DoneAt
		if t.IsZero() {
			t = st.CreatedAt
		}
		items = append(items, kv{id: id, t: t})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].t.Before(items[j].t) })

	excess := len(s.status) - limit
	for i := 0; i < excess && i < len(items); i++ {
		delete(s.status, items[i].id)
	}
}
