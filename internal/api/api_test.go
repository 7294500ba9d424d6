package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"maintd/internal/eventbus"
	"maintd/internal/storage"
	"maintd/internal/task"
	"maintd/internal/task/scheduler"
	"maintd/internal/task/store"
	logx "maintd/pkg/logx"
)

type okExec struct{}

func (okExec) Execute(ctx context.Context, a task.Action) task.Outcome {
	return task.Succeeded("did " + string(a.Kind))
}

type fixture struct {
	store  *store.Store
	bus    *eventbus.MemBus
	srv    *Server
	client *Client
}

func newFixture(t *testing.T, cfg Config, withJournal bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(store.Options{Path: filepath.Join(dir, "tasks.json")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	var j storage.Journal
	if withJournal {
		j, err = storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "runs.jsonl")}, logx.Nop())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = j.Close() })
	}

	bus := eventbus.New()
	sched := scheduler.New(scheduler.Config{}, scheduler.Deps{
		Store:    st,
		Executor: okExec{},
		Journal:  j,
		Bus:      bus,
		Log:      logx.Nop(),
	})
	deps := Deps{Store: st, Scheduler: sched, Bus: bus, Log: logx.Nop()}
	if j != nil {
		deps.Runs = j
	}
	srv := New(cfg, deps)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{store: st, bus: bus, srv: srv, client: NewClient(ts.URL, cfg.Token)}
}

func apiStatus(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

func TestAuth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Token: "s3cret"}, false)
	ctx := context.Background()

	if _, err := f.client.Status(ctx); err != nil {
		t.Fatalf("status with token: %v", err)
	}

	anon := NewClient(f.client.BaseURL, "")
	if _, err := anon.Status(ctx); apiStatus(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	wrong := NewClient(f.client.BaseURL, "nope")
	if _, err := wrong.ListTasks(ctx); apiStatus(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}

	resp, err := http.Get(f.client.BaseURL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}

	resp, err = http.Get(f.client.BaseURL + "/api/status?token=s3cret")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query token status=%d", resp.StatusCode)
	}
}

func TestTaskLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, false)
	ctx := context.Background()

	tk, err := f.client.CreateFromTemplate(ctx, "daily-disk")
	if err != nil {
		t.Fatal(err)
	}
	if tk.ID == "" || tk.Schedule.Kind != task.ScheduleDaily || !tk.Enabled {
		t.Fatalf("created=%+v", tk)
	}

	name := "Nightly disk"
	tk, err = f.client.UpdateTask(ctx, tk.ID, task.Patch{Name: &name})
	if err != nil || tk.Name != name {
		t.Fatalf("update: %+v %v", tk, err)
	}
	if _, err := f.client.UpdateTask(ctx, tk.ID, task.Patch{}); apiStatus(err) != http.StatusBadRequest {
		t.Fatalf("empty patch: %v", err)
	}

	tk, err = f.client.SetTaskEnabled(ctx, tk.ID, false)
	if err != nil || tk.Enabled {
		t.Fatalf("disable: %+v %v", tk, err)
	}

	list, err := f.client.ListTasks(ctx)
	if err != nil || len(list) != 1 || list[0].Name != name {
		t.Fatalf("list=%+v err=%v", list, err)
	}

	if err := f.client.DeleteTask(ctx, tk.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.client.GetTask(ctx, tk.ID); apiStatus(err) != http.StatusNotFound {
		t.Fatalf("get deleted: %v", err)
	}
	if err := f.client.DeleteTask(ctx, tk.ID); apiStatus(err) != http.StatusNotFound {
		t.Fatalf("delete twice: %v", err)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, false)
	ctx := context.Background()

	_, err := f.client.CreateTask(ctx, task.Draft{
		Name:     "bad",
		Action:   task.CleanRAM(task.RAMOptions{}),
		Schedule: task.Every(0),
	})
	var ae *APIError
	if !errors.As(err, &ae) || ae.Status != http.StatusBadRequest || ae.Body.Field != "schedule.interval_minutes" {
		t.Fatalf("err=%v", err)
	}

	if _, err := f.client.CreateFromTemplate(ctx, "nope"); apiStatus(err) != http.StatusBadRequest {
		t.Fatalf("unknown template: %v", err)
	}
	if n := len(f.store.List()); n != 0 {
		t.Fatalf("store has %d tasks after rejected input", n)
	}
}

func TestRunTaskIsJournaled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, true)
	ctx := context.Background()

	tk, err := f.client.CreateTask(ctx, task.Draft{
		Name:     "ram",
		Action:   task.CleanRAM(task.RAMOptions{}),
		Schedule: task.Every(60),
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := f.client.RunTask(ctx, tk.ID)
	if err != nil || !out.Success {
		t.Fatalf("run: %+v %v", out, err)
	}
	if _, err := f.client.RunTask(ctx, "missing"); apiStatus(err) != http.StatusNotFound {
		t.Fatalf("run missing: %v", err)
	}

	runs, err := f.client.Runs(ctx, tk.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Trigger != scheduler.TriggerManual || !runs[0].Success {
		t.Fatalf("runs=%+v", runs)
	}

	got, _ := f.client.GetTask(ctx, tk.ID)
	if got.Stats.RunsTotal != 1 || len(got.History) != 1 {
		t.Fatalf("stats=%+v history=%d", got.Stats, len(got.History))
	}
}

func TestRunsWithoutJournal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, false)
	if _, err := f.client.Runs(context.Background(), "", 0); apiStatus(err) != http.StatusServiceUnavailable {
		t.Fatalf("err=%v", err)
	}
}

func TestSchedulerAndSettings(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{}, false)
	ctx := context.Background()

	st, err := f.client.SetScheduler(ctx, false)
	if err != nil || st.SchedulerEnabled {
		t.Fatalf("toggle: %+v %v", st, err)
	}
	status, _ := f.client.Status(ctx)
	if status.Enabled {
		t.Fatal("status still enabled")
	}

	on, delay := true, 30
	st, err = f.client.UpdateSettings(ctx, SettingsPatch{SchedulerEnabled: &on, StartupDelaySeconds: &delay})
	if err != nil {
		t.Fatal(err)
	}
	if !st.SchedulerEnabled || st.StartupDelaySeconds != 30 || !st.AutoStartScheduler {
		t.Fatalf("settings=%+v", st)
	}

	bad := -1
	if _, err := f.client.UpdateSettings(ctx, SettingsPatch{StartupDelaySeconds: &bad}); apiStatus(err) != http.StatusBadRequest {
		t.Fatalf("negative delay: %v", err)
	}
	if got := f.store.Settings().StartupDelaySeconds; got != 30 {
		t.Fatalf("rejected patch leaked: delay=%d", got)
	}
}

func TestMutationRateLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{MutationRate: 0.001, MutationBurst: 1}, false)
	ctx := context.Background()

	if _, err := f.client.SetScheduler(ctx, true); err != nil {
		t.Fatal(err)
	}
	if _, err := f.client.SetScheduler(ctx, true); apiStatus(err) != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	// Reads are never limited.
	if _, err := f.client.ListTasks(ctx); err != nil {
		t.Fatal(err)
	}

	f.srv.Apply(Config{})
	if _, err := f.client.SetScheduler(ctx, true); err != nil {
		t.Fatalf("after Apply: %v", err)
	}
}

func TestEventStream(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Token: "tok"}, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := f.client.Events(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for f.bus.Subscribers() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("stream never subscribed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	tk, err := f.client.CreateFromTemplate(ctx, "ram-monitor")
	if err != nil {
		t.Fatal(err)
	}
	select {
	case e, ok := <-events:
		if !ok {
			t.Fatal("stream closed")
		}
		if e.Type != eventbus.TaskChanged {
			t.Fatalf("event=%+v", e)
		}
		data, _ := e.Data.(map[string]any)
		if data["id"] != tk.ID {
			t.Fatalf("event data=%v", e.Data)
		}
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}
