// Package app wires the relay together: config, logging, storage, the
// Telegram adapter, the poller, the broadcaster and the command handlers.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"patchbell/internal/bot"
	"patchbell/internal/config"
	"patchbell/internal/eventbus"
	"patchbell/internal/notifier/broadcast"
	"patchbell/internal/observability/status"
	"patchbell/internal/poller"
	rtsup "patchbell/internal/runtime/supervisor"
	"patchbell/internal/source"
	"patchbell/internal/storage"
	kit "patchbell/internal/transport"
	telegram "patchbell/internal/transport/telegram/adapter"
	logx "patchbell/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	poller  *poller.Engine
	bc      *broadcast.Service
	cmds    *bot.Handler
	status  *status.Service

	updates chan kit.Update
}

// NewApp loads config from cfgPath (empty means env only) and builds every
// component. Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	settings, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(settings.Logging)
	ad, err := telegram.New(settings.Telegram, log.With(logx.String("comp", "telegram")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return build(cfgm, settings, ad, logSvc, log)
}

func build(cfgm *config.Manager, s *config.Settings, ad kit.Adapter, logSvc *logx.Service, log logx.Logger) (*App, error) {
	store, err := storage.Open(s.Storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", s.Storage.Driver), logx.String("path", s.Storage.Path))

	bus := eventbus.New()
	fetch := source.NewDefaultMux(s.FetchTimeout, s.SteamAPIBase)
	bc := broadcast.New(s.Broadcast, ad, log.With(logx.String("comp", "broadcast")))
	eng := poller.New(s.Poller, s.Catalog, fetch, store, bc, bus, log.With(logx.String("comp", "poller")))
	cmds := bot.New(s.Catalog, store, ad, log.With(logx.String("comp", "bot")))

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		poller:  eng,
		bc:      bc,
		cmds:    cmds,
		updates: make(chan kit.Update, 256),
	}
	if s.Status.Enabled {
		a.status = status.New(status.Config{Addr: s.Status.Addr}, eng, bc, log.With(logx.String("comp", "status")),
			status.WithRuntime(func() rtsup.Counters { return a.sup.Counters() }),
			status.WithEventBus(bus),
		)
	}
	return a, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := config.Resolve(cfg)
		return err
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	if up, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		a.sup.Go0("telegram.menu.update", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, a.cmds.MenuCommands()); err != nil {
				a.log.Warn("menu commands update failed", logx.Err(err))
			}
		})
	}

	a.bc.Start(runCtx)

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmds.DispatchLoop(c, a.updates)
	})
	a.sup.GoRestart("poller", a.poller.Run,
		rtsup.WithRestartBackoff(time.Second, time.Minute),
		rtsup.WithPublishFirstError(true),
	)

	if a.status != nil {
		if err := a.status.Start(runCtx); err != nil {
			// status is optional
			a.log.Warn("status server not started", logx.Err(err))
		}
	}

	a.startEventLog()
	a.startConfigReload()
	a.sup.Go("config.watch", a.cfgm.Watch)

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started")
	return nil
}

func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				switch d := e.Data.(type) {
				case eventbus.SourceChanged:
					a.log.Info("source changed", logx.String("source", d.SourceKey), logx.String("title", d.Title), logx.Int("subscribers", d.Subscribers))
				case eventbus.CycleDone:
					a.log.Debug("cycle done", logx.Int("visited", d.Visited), logx.Int("changed", d.Changed), logx.Int("skipped", d.Skipped), logx.Duration("took", d.Took))
				default:
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		}
	})
}

// startConfigReload applies logging changes live and reports the rest.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				sections, fields := config.SummarizeChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Info("config reloaded (no changes)")
					continue
				}
				if a.logs != nil {
					a.logs.Apply(config.LogxConfig(newCfg.Logging))
				}
				if pending := config.RestartRequired(sections); len(pending) > 0 {
					a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(pending, ",")))
				}
				a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// background loops start unwinding now; a mid-cycle poller stops between sources
	a.sup.Cancel()

	a.step(ctx, "status", time.Second, func(c context.Context) error {
		if a.status != nil {
			a.status.Stop(c)
		}
		return nil
	})
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 5*time.Second, a.sup.Stop)
	a.step(ctx, "broadcast", 2*time.Second, func(c context.Context) error { a.bc.Stop(c); return nil })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max and by ctx's own deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
