package config

import (
	"reflect"
	"sort"
	"strings"

	logx "maintd/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed sections, (2) safe structured
// attrs for logging (never the API token), and (3) the changed settings that
// only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)
	var restart []string

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.pretty", newCfg.Logging.Pretty),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Store.Path) != strings.TrimSpace(newCfg.Store.Path) {
		changed = append(changed, "store")
		restart = append(restart, "store.path")
	}

	if oldCfg.Journal != newCfg.Journal {
		changed = append(changed, "journal")
		restart = append(restart, "journal")
		attrs = append(attrs,
			logx.String("journal.driver", newCfg.Journal.Driver),
			logx.Int("journal.retention", newCfg.Journal.Retention),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick", strings.TrimSpace(newCfg.Scheduler.Tick)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.condition_cooldown", strings.TrimSpace(newCfg.Scheduler.ConditionCooldown)),
			logx.String("scheduler.action_timeout", strings.TrimSpace(newCfg.Scheduler.ActionTimeout)),
			logx.Int("scheduler.history_size", newCfg.Scheduler.HistorySize),
			logx.Int("scheduler.retry_max", newCfg.Scheduler.RetryMax),
		)
		if strings.TrimSpace(oldCfg.Scheduler.StartupDelay) != strings.TrimSpace(newCfg.Scheduler.StartupDelay) {
			restart = append(restart, "scheduler.startup_delay")
		}
	}

	if !reflect.DeepEqual(oldCfg.Actions, newCfg.Actions) {
		changed = append(changed, "actions")
		restart = append(restart, "actions")
		attrs = append(attrs,
			logx.String("actions.defender_unit", newCfg.Actions.DefenderUnit),
			logx.Bool("actions.drop_caches", newCfg.Actions.DropCaches),
			logx.Int("actions.disk_overrides", len(newCfg.Actions.Disk)),
		)
	}

	if oldCfg.API != newCfg.API {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", newCfg.API.Enabled),
			logx.String("api.addr", strings.TrimSpace(newCfg.API.Addr)),
			logx.Bool("api.token_set", strings.TrimSpace(newCfg.API.Token) != ""),
			logx.Float64("api.mutation_rate", newCfg.API.MutationRate),
		)
		if oldCfg.API.Enabled != newCfg.API.Enabled ||
			strings.TrimSpace(oldCfg.API.Addr) != strings.TrimSpace(newCfg.API.Addr) ||
			oldCfg.API.Pprof != newCfg.API.Pprof {
			restart = append(restart, "api.listener")
		}
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
