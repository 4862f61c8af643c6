package config

import (
	"hash/fnv"
	"reflect"
	"strings"

	logx "patchbell/pkg/logx"
)

// Sections that can change without a restart.
var liveSections = map[string]bool{"logging": true}

// SummarizeChange lists the changed top-level sections and returns log
// fields describing them. Secrets are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	var fields []logx.Field

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Poller != newCfg.Poller {
		changed = append(changed, "poller")
		fields = append(fields,
			logx.String("poller.interval", newCfg.Poller.Interval),
			logx.String("poller.schedule", newCfg.Poller.Schedule),
			logx.String("poller.identity", newCfg.Poller.Identity),
		)
	}
	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		fields = append(fields, logx.Int("broadcast.workers", newCfg.Broadcast.Workers), logx.Int("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver), logx.String("storage.path", newCfg.Storage.Path))
	}
	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
		fields = append(fields, logx.Bool("status.enabled", newCfg.Status.Enabled), logx.String("status.addr", newCfg.Status.Addr))
	}
	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) || strings.TrimSpace(oldCfg.SteamAPIBase) != strings.TrimSpace(newCfg.SteamAPIBase) {
		changed = append(changed, "sources")
		fields = append(fields, logx.Int("sources.count", len(newCfg.Sources)))
	}
	return changed, fields
}

// RestartRequired returns the changed sections that are not applied live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, c := range changed {
		if !liveSections[c] {
			out = append(out, c)
		}
	}
	return out
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
