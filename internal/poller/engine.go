// Package poller runs the polling cycles: fetch each source, compare with the
// last seen identity, commit changes, then fan them out.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"patchbell/internal/catalog"
	"patchbell/internal/eventbus"
	"patchbell/internal/source"
	"patchbell/internal/storage"
	logx "patchbell/pkg/logx"
)

type outcome int

const (
	unchanged outcome = iota
	changed
	skipped
)

// Engine is the sole writer of last-seen state and the sole producer of
// change events.
type Engine struct {
	cfg   Config
	cat   *catalog.Catalog
	fetch source.Fetcher
	store storage.Store
	disp  Dispatcher
	bus   eventbus.Bus
	log   logx.Logger

	// cycleMu keeps cycles from overlapping when Cycle is called directly.
	cycleMu sync.Mutex

	mu    sync.Mutex
	stats Stats
}

func New(cfg Config, cat *catalog.Catalog, fetch source.Fetcher, store storage.Store, disp Dispatcher, bus eventbus.Bus, log logx.Logger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Identity == "" {
		cfg.Identity = IdentityTitle
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:   cfg,
		cat:   cat,
		fetch: fetch,
		store: store,
		disp:  disp,
		bus:   bus,
		log:   log,
		stats: Stats{LastChange: map[string]time.Time{}},
	}
}

// Cycle visits every source once, in catalog order. A canceled ctx stops
// the cycle between sources; unvisited sources are picked up next cycle.
func (e *Engine) Cycle(ctx context.Context) CycleReport {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	rep := CycleReport{Started: time.Now()}
	for _, src := range e.cat.All() {
		if ctx.Err() != nil {
			rep.Canceled = true
			break
		}
		rep.Visited++
		switch e.pollSource(ctx, src) {
		case changed:
			rep.Changed++
		case skipped:
			rep.Skipped++
		}
	}
	rep.Took = time.Since(rep.Started)
	e.record(rep)

	e.log.Info("poll cycle finished",
		logx.Int("visited", rep.Visited),
		logx.Int("changed", rep.Changed),
		logx.Int("skipped", rep.Skipped),
		logx.Bool("canceled", rep.Canceled),
		logx.Duration("took", rep.Took),
	)
	e.publish(eventbus.TypeCycleDone, eventbus.CycleDone{
		Visited: rep.Visited, Changed: rep.Changed, Skipped: rep.Skipped, Took: rep.Took, Canceled: rep.Canceled,
	})
	return rep
}

func (e *Engine) pollSource(ctx context.Context, src catalog.Source) outcome {
	log := e.log.With(logx.String("source", src.Key))

	it, err := e.fetch.FetchLatest(ctx, src)
	if err != nil {
		if errors.Is(err, source.ErrNotAvailable) {
			log.Info("no items available; skipping")
		} else {
			log.Warn("fetch failed; skipping", logx.Err(err))
		}
		return skipped
	}
	identity := e.cfg.Identity.of(it)

	prev, seen, err := e.store.GetLastSeen(ctx, src.Key)
	if err != nil {
		log.Warn("last seen read failed; skipping", logx.Err(err))
		return skipped
	}
	if seen && prev == identity {
		log.Debug("unchanged", logx.String("identity", identity))
		return unchanged
	}

	// Commit before notifying: a crash after this point loses one
	// notification round but never re-sends the same change.
	commitCtx := context.WithoutCancel(ctx)
	if err := e.store.SetLastSeen(commitCtx, src.Key, identity); err != nil {
		log.Error("last seen commit failed; not notifying", logx.Err(err))
		return skipped
	}
	e.noteChange(src.Key)

	subs, err := e.store.ListSubscribers(commitCtx, src.Key)
	if err != nil {
		log.Error("subscriber lookup failed; change committed without fan-out", logx.Err(err))
		return changed
	}
	log.Info("new item", logx.String("title", it.Title), logx.String("link", it.Link), logx.Int("subscribers", len(subs)))

	ev := Event{SourceKey: src.Key, SourceName: src.Name, Title: it.Title, Link: it.Link, Identity: identity}
	if len(subs) > 0 && e.disp != nil {
		if err := e.disp.Dispatch(commitCtx, ev, subs); err != nil {
			log.Warn("dispatch failed", logx.Err(err), logx.Int("subscribers", len(subs)))
		}
	}
	e.publish(eventbus.TypeSourceChanged, eventbus.SourceChanged{
		SourceKey: src.Key, Title: it.Title, Link: it.Link, Subscribers: len(subs),
	})
	return changed
}

func (e *Engine) publish(typ string, data any) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

func (e *Engine) noteChange(key string) {
	e.mu.Lock()
	e.stats.LastChange[key] = time.Now()
	e.mu.Unlock()
}

func (e *Engine) record(rep CycleReport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Cycles++
	e.stats.Changes += uint64(rep.Changed)
	e.stats.Skips += uint64(rep.Skipped)
	e.stats.LastCycle = rep
}

// Snapshot returns a copy of the engine counters.
func (e *Engine) Snapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := e.stats
	cp.LastChange = make(map[string]time.Time, len(e.stats.LastChange))
	for k, v := range e.stats.LastChange {
		cp.LastChange[k] = v
	}
	return cp
}
