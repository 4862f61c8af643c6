package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"patchbell/internal/catalog"
	"patchbell/internal/notifier/broadcast"
	"patchbell/internal/poller"
	"patchbell/internal/source"
	"patchbell/internal/storage"
	"patchbell/internal/transport/telegram/adapter"
	logx "patchbell/pkg/logx"
)

const DefaultStatusAddr = "127.0.0.1:8089"

// Settings is a validated Config with defaults applied, typed for the
// components that consume it.
type Settings struct {
	Telegram     adapter.Config
	Logging      logx.Config
	Poller       poller.Config
	FetchTimeout time.Duration
	Broadcast    broadcast.Config
	Storage      storage.Config
	Status       StatusConfig
	Catalog      *catalog.Catalog
	SteamAPIBase string
}

// Resolve validates cfg and applies defaults. A missing token is an error.
func Resolve(cfg *Config) (*Settings, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var errs []error
	addErr := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	s := &Settings{Logging: LogxConfig(cfg.Logging)}

	s.Telegram.Token = strings.TrimSpace(cfg.Telegram.Token)
	if s.Telegram.Token == "" {
		addErr(errors.New("telegram.token is required (or set TELEGRAM_TOKEN)"))
	}
	s.Telegram.APIURL = strings.TrimSpace(cfg.Telegram.APIURL)
	d, err := ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	addErr(err)
	s.Telegram.PollTimeout = d

	d, err = ParseDurationOrDefault("poller.interval", cfg.Poller.Interval, poller.DefaultInterval)
	addErr(err)
	s.Poller.Interval = d
	s.Poller.Schedule = strings.TrimSpace(cfg.Poller.Schedule)
	if s.Poller.Schedule != "" {
		addErr(poller.ValidateSchedule(s.Poller.Schedule))
	}
	mode, err := poller.ParseIdentityMode(cfg.Poller.Identity)
	if err != nil {
		addErr(fmt.Errorf("poller.identity: %w", err))
	}
	s.Poller.Identity = mode
	d, err = ParseDurationOrDefault("poller.fetch_timeout", cfg.Poller.FetchTimeout, source.DefaultTimeout)
	addErr(err)
	s.FetchTimeout = d

	b := cfg.Broadcast
	if b.Workers < 0 || b.QueueSize < 0 || b.RatePerSec < 0 {
		addErr(errors.New("broadcast: workers, queue_size and rate_per_sec must be >= 0"))
	}
	d, err = ParseDurationField("broadcast.send_timeout", b.SendTimeout)
	addErr(err)
	s.Broadcast = broadcast.Config{Workers: b.Workers, QueueSize: b.QueueSize, RatePerSec: b.RatePerSec, SendTimeout: d}

	s.Storage, err = StorageFromConfig(cfg.Storage)
	addErr(err)

	s.Status = cfg.Status
	if s.Status.Enabled && strings.TrimSpace(s.Status.Addr) == "" {
		s.Status.Addr = DefaultStatusAddr
	}

	if len(cfg.Sources) == 0 {
		s.Catalog = catalog.Default()
	} else {
		srcs := make([]catalog.Source, 0, len(cfg.Sources))
		for i, sc := range cfg.Sources {
			fam, err := catalog.ParseFamily(sc.Family)
			if err != nil {
				addErr(fmt.Errorf("sources[%d]: %w", i, err))
				continue
			}
			srcs = append(srcs, catalog.Source{Key: sc.Key, Family: fam, Locator: sc.Locator, Name: sc.Name})
		}
		if len(srcs) == len(cfg.Sources) {
			s.Catalog, err = catalog.New(srcs)
			if err != nil {
				addErr(fmt.Errorf("sources: %w", err))
			}
		}
	}
	s.SteamAPIBase = strings.TrimSpace(cfg.SteamAPIBase)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

// LogxConfig maps the logging section onto the logger service config.
func LogxConfig(l LoggingConfig) logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}

// StorageFromConfig maps the storage section onto storage.Config.
func StorageFromConfig(sc StorageConfig) (storage.Config, error) {
	out := storage.Config{Driver: strings.TrimSpace(sc.Driver), Path: strings.TrimSpace(sc.Path)}
	d, err := ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return out, err
	}
	out.BusyTimeout = d
	return out, nil
}
