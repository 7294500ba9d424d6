package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"maintd/internal/actions"
	"maintd/internal/api"
	"maintd/internal/config"
	"maintd/internal/eventbus"
	"maintd/internal/runtime/supervisor"
	"maintd/internal/storage"
	"maintd/internal/task/dispatch"
	"maintd/internal/task/scheduler"
	"maintd/internal/task/store"
	logx "maintd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     *eventbus.MemBus
	store   *store.Store
	journal storage.Journal

	closeUnits func() error
	dispatch   *dispatch.Dispatcher
	sched      *scheduler.Service
	api        *api.Server
	apiLn      net.Listener
}

// Options replace collaborators that talk to the host. Zero values use the real ones.
type Options struct {
	Units actions.UnitController
}

func NewApp(cfgPath string) (*App, error) {
	return New(cfgPath, Options{})
}

func New(cfgPath string, opt Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	st, err := store.Open(store.Options{
		Path:        cfg.Store.Path,
		HistorySize: cfg.Scheduler.HistorySize,
		Log:         log,
	})
	if err != nil {
		var ce *store.CorruptError
		if !errors.As(err, &ce) {
			logSvc.Close()
			return nil, err
		}
		// Start empty; the unreadable document was already moved aside.
		log.Warn("task store was corrupt; starting with no tasks", logx.String("preserved_as", ce.PreservedAs))
	}

	// Run journal (optional)
	var journal storage.Journal
	if jc, enabled, err := mapJournalConfig(cfg); err != nil {
		logSvc.Close()
		return nil, err
	} else if enabled {
		j, err := storage.Open(jc, log.With(logx.String("comp", "journal")))
		if err != nil {
			logSvc.Close()
			return nil, fmt.Errorf("journal: %w", err)
		}
		journal = j
		log.Info("run journal enabled", logx.String("driver", jc.Driver), logx.String("path", jc.Path))
	}

	units, closeUnits := opt.Units, func() error { return nil }
	if units == nil {
		units, closeUnits = connectUnits(context.Background(), log)
	}
	acfg := mapActionsConfig(cfg)
	linux := actions.New(acfg, units, log)

	schedCfg, dispOpt, err := mapSchedulerConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	disp := dispatch.New(linux, dispOpt, log)

	deps := scheduler.Deps{
		Store:    st,
		Executor: disp,
		Metrics:  actions.NewSampler(acfg),
		Bus:      bus,
		Log:      log,
	}
	if journal != nil {
		deps.Journal = journal
	}
	sched := scheduler.New(schedCfg, deps)

	a := &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      st,
		journal:    journal,
		closeUnits: closeUnits,
		dispatch:   disp,
		sched:      sched,
	}
	if cfg.API.Enabled {
		apiDeps := api.Deps{Store: st, Scheduler: sched, Bus: bus, Log: log}
		if journal != nil {
			apiDeps.Runs = journal
		}
		a.api = api.New(mapAPIConfig(cfg), apiDeps)
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// APIAddr is the bound API address, empty when the API is disabled or not started.
func (a *App) APIAddr() string {
	if a.apiLn == nil {
		return ""
	}
	return a.apiLn.Addr().String()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, _, err := mapJournalConfig(cfg); err != nil {
			return err
		}
		_, _, err := mapSchedulerConfig(cfg)
		return err
	})

	if a.api != nil {
		ln, err := net.Listen("tcp", a.cfgm.Get().API.Addr)
		if err != nil {
			return fmt.Errorf("api listen: %w", err)
		}
		a.apiLn = ln
		a.sup.Go("api.serve", func(c context.Context) error {
			return a.api.Serve(ln)
		})
	}

	a.sched.Start(a.sup.Context())

	// Debug log of every bus event; the API streams the same events to clients.
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
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
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// applyConfig pushes a validated config into the running services. Sections
// that are only read at startup are reported, not applied.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config changes require a restart", logx.String("keys", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if schedCfg, dispOpt, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(schedCfg)
		a.dispatch.SetOptions(dispOpt)
	}
	a.store.SetHistorySize(newCfg.Scheduler.HistorySize)

	if a.api != nil {
		a.api.Apply(mapAPIConfig(newCfg))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigApplied, Data: map[string]any{"changed": sections, "restart": restart}})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if err := a.step(ctx, name, max, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("api", 2*time.Second, func(c context.Context) error {
		if a.api == nil {
			return nil
		}
		return a.api.Shutdown(c)
	})
	// Waits for the in-flight action, then flushes the store.
	step("scheduler", 10*time.Second, a.sched.Stop)
	step("journal", time.Second, func(c context.Context) error {
		if a.journal == nil {
			return nil
		}
		return a.journal.Close()
	})
	step("store", time.Second, func(c context.Context) error { return a.store.Close() })
	step("units", time.Second, func(c context.Context) error { return a.closeUnits() })

	// Finally, wait for supervised goroutines (config watch/reload, api).
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return errors.Join(errs...)
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		max = time.Millisecond
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
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return err
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		// Leak logging: observe when/if the step eventually finishes.
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
		return stepCtx.Err()
	}
}
