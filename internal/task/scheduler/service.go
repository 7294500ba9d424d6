package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"maintd/internal/eventbus"
	"maintd/internal/storage"
	"maintd/internal/task/due"
	"maintd/internal/task/store"
	logx "maintd/pkg/logx"
)

type Deps struct {
	Store    *store.Store
	Executor Executor
	Metrics  MetricsSource
	Journal  Journal
	Bus      eventbus.Bus
	Log      logx.Logger
	// Now is the wall clock for cron ticks and manual runs. Defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus
	now func() time.Time

	store   *store.Store
	exec    Executor
	metrics MetricsSource
	journal Journal

	c      *cron.Cron
	entry  cron.EntryID
	delay  *time.Timer
	runCtx context.Context
	cancel context.CancelFunc
	status Status

	// gate serializes ticks and manual runs.
	gate chan struct{}

	// Per-process facts, guarded by gate.
	startupDone map[string]bool
	lastChecked map[string]time.Time

	metricsWarn *logx.Throttle
	journalWarn *logx.Throttle
}

func New(cfg Config, deps Deps) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	cfg = cfg.withDefaults()
	s := &Service{
		log:         log.With(logx.String("comp", "scheduler")),
		cfg:         cfg,
		bus:         deps.Bus,
		now:         now,
		store:       deps.Store,
		exec:        deps.Executor,
		metrics:     deps.Metrics,
		journal:     deps.Journal,
		gate:        make(chan struct{}, 1),
		startupDone: map[string]bool{},
		lastChecked: map[string]time.Time{},
		metricsWarn: logx.NewThrottle(5 * time.Minute),
		journalWarn: logx.NewThrottle(time.Minute),
	}
	s.loc = loadLocation(cfg.Timezone, s.log)
	s.status = Status{State: StateStopped, Tick: cfg.Tick, Timezone: s.loc.String()}
	return s
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) config() (Config, *time.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.loc
}

// Apply swaps tick period, timezone and cooldown at runtime.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone) {
		s.loc = loadLocation(cfg.Timezone, s.log)
	}
	s.status.Tick = cfg.Tick
	s.status.Timezone = s.loc.String()

	if s.c != nil && old.Tick != cfg.Tick {
		s.c.Remove(s.entry)
		s.entry = s.c.Schedule(cron.Every(cfg.Tick), cron.FuncJob(s.cronTick))
		s.log.Info("tick period changed", logx.Duration("from", old.Tick), logx.Duration("to", cfg.Tick))
	}
}

// Start arms the ticker. The first tick runs after the startup delay, then
// every Config.Tick.
//
// When the persisted auto_start_scheduler flag is set, the global enable flag
// is forced on before the first tick. Ticks keep ctx's values but not its
// cancellation; Stop ends them.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	settings := s.store.Settings()
	if settings.AutoStartScheduler && !settings.SchedulerEnabled {
		if st, err := s.store.SetSchedulerEnabled(true); err == nil {
			settings = st
			s.log.Info("scheduler enabled at launch (auto_start_scheduler)")
		}
	}

	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: s.log})),
	)
	s.c = c
	s.entry = c.Schedule(cron.Every(cfg.Tick), cron.FuncJob(s.cronTick))

	delay := cfg.StartupDelay
	if delay <= 0 {
		delay = time.Duration(settings.StartupDelaySeconds) * time.Second
	}
	s.status.State = StateIdle
	s.status.Enabled = settings.SchedulerEnabled
	s.mu.Unlock()

	// Hints are written under the gate, before the first tick can be armed.
	if err := s.acquire(ctx); err == nil {
		s.refreshHints(s.now())
		s.release()
	}

	s.mu.Lock()
	if s.c == c {
		s.delay = time.AfterFunc(delay, func() { s.firstTick(c) })
	}
	s.mu.Unlock()
	s.log.Info("scheduler started",
		logx.Duration("tick", cfg.Tick),
		logx.String("tz", s.loc.String()),
		logx.Duration("startup_delay", delay),
		logx.Bool("enabled", settings.SchedulerEnabled),
	)
}

func (s *Service) firstTick(c *cron.Cron) {
	s.mu.Lock()
	live := s.c == c
	ctx := s.runCtx
	s.mu.Unlock()
	if !live {
		return
	}
	s.Tick(ctx, s.now())

	s.mu.Lock()
	if s.c == c {
		c.Start()
	}
	s.mu.Unlock()
}

func (s *Service) cronTick() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	s.Tick(ctx, s.now())
}

// Stop halts ticking, waits for the in-flight action (bounded by ctx) and
// flushes the store. In-flight actions are only cancelled when ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	tmr := s.delay
	s.delay = nil
	cancel := s.cancel
	s.mu.Unlock()

	if tmr != nil {
		tmr.Stop()
	}
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if err := s.acquire(ctx); err != nil {
		s.log.Warn("stop: in-flight action did not finish in time", logx.Err(err))
	} else {
		s.release()
	}
	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	s.status.State = StateStopped
	s.status.RunningTask = ""
	s.mu.Unlock()

	err := s.store.Flush()
	if err != nil {
		s.log.Error("stop: final store flush failed", logx.Err(err))
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	return err
}

func (s *Service) acquire(ctx context.Context) error {
	select {
	case s.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) release() { <-s.gate }

// SetEnabled toggles the global scheduler flag and persists it.
func (s *Service) SetEnabled(enabled bool) (store.Settings, error) {
	st, err := s.store.SetSchedulerEnabled(enabled)
	if err != nil {
		return st, err
	}
	s.mu.Lock()
	s.status.Enabled = st.SchedulerEnabled
	s.mu.Unlock()
	s.publish(eventbus.SchedulerToggle, map[string]bool{"enabled": st.SchedulerEnabled})
	s.log.Info("scheduler toggled", logx.Bool("enabled", st.SchedulerEnabled))
	return st, nil
}

// Status returns a snapshot of the loop state.
func (s *Service) Status() Status {
	settings := s.store.Settings()
	saveErr := s.store.LastSaveError()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Enabled = settings.SchedulerEnabled
	if st.LastTickAt != nil {
		v := *st.LastTickAt
		st.LastTickAt = &v
	}
	if st.LastRun != nil {
		v := *st.LastRun
		st.LastRun = &v
	}
	if s.c != nil && s.entry != 0 {
		if e := s.c.Entry(s.entry); !e.Next.IsZero() {
			next := e.Next
			st.NextTickAt = &next
		}
	}
	if saveErr != nil {
		st.SaveError = saveErr.Error()
	}
	return st
}

// refreshHints recomputes next_eligible_at for every task. Call with the gate held.
func (s *Service) refreshHints(now time.Time) {
	cfg, loc := s.config()
	hints := map[string]*time.Time{}
	for _, t := range s.store.List() {
		d := due.Evaluate(t, due.Input{Now: now, Location: loc, Cooldown: cfg.Cooldown})
		hints[t.ID] = d.Next
	}
	s.store.SetHints(hints)
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

func (s *Service) appendJournal(ctx context.Context, e storage.RunEntry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.AppendRun(ctx, e); err != nil {
		s.journalWarn.Do(func() {
			s.log.Warn("journal append failed", logx.String("task", e.TaskID), logx.Err(err))
		})
	}
}

// cronLogger routes robfig/cron's internal messages to debug logs.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", keysAndValues))
}
