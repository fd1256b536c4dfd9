package config

import (
	"sort"
	"strings"

	logx "eventbot/pkg/logx"
)

// hotSections apply without a restart; everything else is read once at startup.
var hotSections = map[string]bool{"logging": true, "telegram.group_log": true}

// SummarizeConfigChange returns (1) a sorted list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the subset of changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)
	trim := strings.TrimSpace

	// never log the token itself
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if trim(ot.Token) != trim(nt.Token) || trim(ot.PollTimeout) != trim(nt.PollTimeout) ||
		ot.RatePerSec != nt.RatePerSec || trim(ot.APIURL) != trim(nt.APIURL) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", trim(ot.Token) != trim(nt.Token)),
			logx.String("telegram.poll_timeout", trim(nt.PollTimeout)),
			logx.Int("telegram.rate_per_sec", nt.RatePerSec),
		)
	}
	if trim(ot.GroupLog) != trim(nt.GroupLog) {
		changed = append(changed, "telegram.group_log")
		attrs = append(attrs, logx.Bool("telegram.group_log_set", trim(nt.GroupLog) != ""))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Subscriptions != newCfg.Subscriptions {
		changed = append(changed, "subscriptions")
		attrs = append(attrs,
			logx.String("subscriptions.fire_time", trim(newCfg.Subscriptions.FireTime)),
			logx.String("subscriptions.poll_interval", trim(newCfg.Subscriptions.PollInterval)),
			logx.String("subscriptions.timezone", trim(newCfg.Subscriptions.Timezone)),
		)
	}

	if oldCfg.Events != newCfg.Events {
		changed = append(changed, "events")
		attrs = append(attrs, logx.String("events.path", trim(newCfg.Events.Path)))
	}

	// never log the redis password
	oldS, newS := oldCfg.Storage, newCfg.Storage
	if trim(oldS.Driver) != trim(newS.Driver) || trim(oldS.Path) != trim(newS.Path) ||
		trim(oldS.BusyTimeout) != trim(newS.BusyTimeout) || oldS.Redis != newS.Redis {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", trim(newS.Driver)),
			logx.Bool("storage.path_set", trim(newS.Path) != ""),
			logx.String("storage.redis_addr", trim(newS.Redis.Addr)),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", trim(newCfg.Metrics.Addr)),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}

	sort.Strings(changed)
	restart := make([]string, 0, len(changed))
	for _, s := range changed {
		if !hotSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
