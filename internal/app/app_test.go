package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"maintd/internal/api"
	"maintd/internal/config"
	"maintd/internal/task"
	"maintd/internal/task/store"
)

type fakeUnits struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeUnits) record(op, unit string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op+" "+unit)
	f.mu.Unlock()
	return nil
}

func (f *fakeUnits) Start(ctx context.Context, unit string) error   { return f.record("start", unit) }
func (f *fakeUnits) Stop(ctx context.Context, unit string) error    { return f.record("stop", unit) }
func (f *fakeUnits) Enable(ctx context.Context, unit string) error  { return f.record("enable", unit) }
func (f *fakeUnits) Disable(ctx context.Context, unit string) error { return f.record("disable", unit) }

func (f *fakeUnits) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	path := filepath.Join(dir, "maintd.yaml")
	body := `
logging:
  level: error
  console: false
store:
  path: ` + filepath.Join(dir, "tasks.json") + `
journal:
  driver: file
  path: ` + filepath.Join(dir, "runs.jsonl") + `
scheduler:
  startup_delay: 1h
actions:
  defender_unit: av-test
api:
  addr: 127.0.0.1:0
` + extra
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	units := &fakeUnits{}
	a, err := New(writeConfig(t, dir, ""), Options{Units: units})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}

	c := api.NewClient(a.APIAddr(), "")
	tk, err := c.CreateTask(ctx, task.Draft{
		Name:     "AV off",
		Action:   task.ToggleDefender(false, false),
		Schedule: task.Every(60),
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.RunTask(ctx, tk.ID)
	if err != nil || !out.Success {
		t.Fatalf("run: %+v %v", out, err)
	}
	if got := units.snapshot(); len(got) != 1 || got[0] != "stop av-test.service" {
		t.Fatalf("unit calls=%v", got)
	}
	runs, err := c.Runs(ctx, tk.ID, 0)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs=%v err=%v", runs, err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("stop: %v", err)
	}

	st, err := store.Open(store.Options{Path: filepath.Join(dir, "tasks.json")})
	if err != nil {
		t.Fatal(err)
	}
	got, err := st.Get(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Stats.RunsTotal != 1 || got.LastRunAt == nil {
		t.Fatalf("persisted stats=%+v", got.Stats)
	}
}

func TestApplyConfigSwapsAPIToken(t *testing.T) {
	dir := t.TempDir()
	a, err := New(writeConfig(t, dir, ""), Options{Units: &fakeUnits{}})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	oldCfg := a.cfgm.Get()
	newCfg, err := config.ParseBytes("maintd.yaml", mustRead(t, writeConfig(t, dir, "  token: fresh\n")))
	if err != nil {
		t.Fatal(err)
	}
	a.applyConfig(oldCfg, newCfg)

	_, err = api.NewClient(a.APIAddr(), "").Status(ctx)
	var ae *api.APIError
	if !errors.As(err, &ae) || ae.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	if _, err := api.NewClient(a.APIAddr(), "fresh").Status(ctx); err != nil {
		t.Fatalf("with new token: %v", err)
	}
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, "")
	b := strings.Replace(string(mustRead(t, path)), "startup_delay: 1h", "tick: 10ms", 1)
	if err := os.WriteFile(path, []byte(b), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path, Options{Units: &fakeUnits{}}); err == nil {
		t.Fatal("expected error for sub-second tick")
	}
}

func TestMapping(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Journal.Driver = "SQLite"
	cfg.Journal.BusyTimeout = "3s"
	cfg.Scheduler.ActionTimeout = "2m"
	cfg.Scheduler.RetryMax = 2
	cfg.Actions.Disk = map[string][]string{"temp": {"/scratch/**"}}

	jc, enabled, err := mapJournalConfig(cfg)
	if err != nil || !enabled {
		t.Fatalf("journal: %+v %v %v", jc, enabled, err)
	}
	if jc.Driver != "sqlite" || jc.Path != "./data/runs.db" || jc.BusyTimeout != 3*time.Second {
		t.Fatalf("journal=%+v", jc)
	}

	cfg.Journal.Driver = "none"
	if _, enabled, _ := mapJournalConfig(cfg); enabled {
		t.Fatal("driver none should disable the journal")
	}

	sc, do, err := mapSchedulerConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Tick != 30*time.Second || sc.Cooldown != 15*time.Minute {
		t.Fatalf("scheduler=%+v", sc)
	}
	if do.Timeout != 2*time.Minute || do.RetryMax != 2 || do.RetryBase != 2*time.Second {
		t.Fatalf("dispatch=%+v", do)
	}

	ac := mapActionsConfig(cfg)
	if got := ac.DiskRoots[task.DiskTemp]; len(got) != 1 || got[0] != "/scratch/**" {
		t.Fatalf("disk roots=%v", ac.DiskRoots)
	}
}
