package app

import (
	"context"
	"strings"
	"time"

	"maintd/internal/actions"
	"maintd/internal/api"
	"maintd/internal/config"
	"maintd/internal/storage"
	"maintd/internal/task"
	"maintd/internal/task/dispatch"
	"maintd/internal/task/scheduler"
	logx "maintd/pkg/logx"
	"maintd/pkg/systemd"
	"maintd/pkg/systemdmanager"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapJournalConfig(cfg *config.Config) (storage.Config, bool, error) {
	jc := cfg.Journal
	driver := strings.ToLower(strings.TrimSpace(jc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("journal.busy_timeout", jc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        jc.JournalPath(),
		BusyTimeout: busy,
		Retention:   jc.Retention,
	}, true, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, dispatch.Options, error) {
	t, err := cfg.Scheduler.Timing()
	if err != nil {
		return scheduler.Config{}, dispatch.Options{}, err
	}
	sc := scheduler.Config{
		Tick:         t.Tick,
		Timezone:     cfg.Scheduler.Timezone,
		Cooldown:     t.Cooldown,
		StartupDelay: t.StartupDelay,
	}
	do := dispatch.Options{
		Timeout:   t.ActionTimeout,
		RetryMax:  cfg.Scheduler.RetryMax,
		RetryBase: t.RetryBackoff,
	}
	return sc, do, nil
}

func mapActionsConfig(cfg *config.Config) actions.Config {
	ac := actions.Config{
		DefenderUnit: cfg.Actions.DefenderUnit,
		DropCaches:   cfg.Actions.DropCaches,
		DiskPath:     cfg.Actions.DiskPath,
	}
	if len(cfg.Actions.Disk) > 0 {
		ac.DiskRoots = make(map[task.DiskCategory][]string, len(cfg.Actions.Disk))
		for name, patterns := range cfg.Actions.Disk {
			ac.DiskRoots[task.DiskCategory(name)] = append([]string(nil), patterns...)
		}
	}
	return ac
}

func mapAPIConfig(cfg *config.Config) api.Config {
	return api.Config{
		Addr:          cfg.API.Addr,
		Token:         cfg.API.Token,
		MutationRate:  cfg.API.MutationRate,
		MutationBurst: cfg.API.MutationBurst,
		Pprof:         cfg.API.Pprof,
	}
}

// connectUnits prefers the systemd D-Bus API and falls back to systemctl.
func connectUnits(ctx context.Context, log logx.Logger) (actions.UnitController, func() error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	m, err := systemdmanager.New(ctx)
	if err != nil {
		log.Warn("systemd d-bus unavailable; falling back to systemctl", logx.Err(err))
		return systemd.CLI{}, func() error { return nil }
	}
	return m, m.Close
}
