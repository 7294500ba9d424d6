package actions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"maintd/internal/task"
	"maintd/internal/task/dispatch"
	logx "maintd/pkg/logx"
	"maintd/pkg/systemdmanager"
)

func writeProc(t *testing.T, meminfo string) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "meminfo"), []byte(meminfo), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "sys", "vm"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sys", "vm", "drop_caches"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

const halfUsed = `MemTotal:        8000000 kB
MemFree:         1000000 kB
MemAvailable:    4000000 kB
Buffers:          200000 kB
Cached:          2000000 kB
`

func TestReadMemInfo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mi, err := readMemInfo(ctx, writeProc(t, halfUsed))
	if err != nil {
		t.Fatal(err)
	}
	if mi.Total != 8000000*1024 || mi.Available != 4000000*1024 {
		t.Fatalf("meminfo=%+v", mi)
	}
	if got := mi.UsedPercent(); math.Abs(got-50) > 1e-9 {
		t.Fatalf("used=%v", got)
	}

	// Old kernels lack MemAvailable; the estimate still counts free memory.
	old := "MemTotal: 1000 kB\nMemFree: 100 kB\nBuffers: 50 kB\nCached: 250 kB\n"
	mi, err = readMemInfo(ctx, writeProc(t, old))
	if err != nil {
		t.Fatal(err)
	}
	if mi.Available < 100*1024 || mi.Available > mi.Total {
		t.Fatalf("fallback meminfo=%+v", mi)
	}

	if _, err := readMemInfo(ctx, writeProc(t, "garbage\n")); err == nil {
		t.Fatal("expected error without MemTotal")
	}
}

func TestSamplerReportsPartialMetrics(t *testing.T) {
	t.Parallel()

	s := NewSampler(Config{ProcRoot: filepath.Join(t.TempDir(), "missing"), DiskPath: t.TempDir()})
	m, err := s.Sample(context.Background())
	if err == nil {
		t.Fatal("expected meminfo error")
	}
	if _, ok := m.Value(task.MetricRAMUsage); ok {
		t.Fatal("ram metric must be absent")
	}
	if v, ok := m.Value(task.MetricDiskUsage); !ok || v < 0 || v > 100 {
		t.Fatalf("disk metric=%v ok=%v", v, ok)
	}

	s = NewSampler(Config{ProcRoot: writeProc(t, halfUsed), DiskPath: t.TempDir()})
	m, err = s.Sample(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := m.Value(task.MetricRAMUsage); math.Abs(v-50) > 1e-9 {
		t.Fatalf("ram=%v", v)
	}
}

func TestCleanRAM(t *testing.T) {
	t.Parallel()

	t.Run("below minimum usage", func(t *testing.T) {
		t.Parallel()
		root := writeProc(t, halfUsed)
		msg, err := cleanRAM(context.Background(), Config{ProcRoot: root, DropCaches: true}, task.RAMOptions{MinUsagePercent: 90}, logx.Nop())
		if err != nil || !strings.Contains(msg, "nothing to do") {
			t.Fatalf("msg=%q err=%v", msg, err)
		}
		b, _ := os.ReadFile(filepath.Join(root, "sys", "vm", "drop_caches"))
		if len(b) != 0 {
			t.Fatalf("drop_caches written: %q", b)
		}
	})

	t.Run("drops page cache", func(t *testing.T) {
		t.Parallel()
		root := writeProc(t, halfUsed)
		msg, err := cleanRAM(context.Background(), Config{ProcRoot: root, DropCaches: true}, task.RAMOptions{}, logx.Nop())
		if err != nil || !strings.HasPrefix(msg, "ram usage 50% -> 50%") {
			t.Fatalf("msg=%q err=%v", msg, err)
		}
		b, _ := os.ReadFile(filepath.Join(root, "sys", "vm", "drop_caches"))
		if string(b) != "1\n" {
			t.Fatalf("drop_caches=%q", b)
		}
	})

	t.Run("missing meminfo is permanent", func(t *testing.T) {
		t.Parallel()
		_, err := cleanRAM(context.Background(), Config{ProcRoot: t.TempDir()}, task.RAMOptions{}, logx.Nop())
		if err == nil || !dispatch.IsNoRetry(err) {
			t.Fatalf("err=%v", err)
		}
	})
}

// sparse creates a file of the given apparent size with mtime set to age ago.
func sparse(t *testing.T, path string, size int64, now time.Time, age time.Duration) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	f.Close()
	mt := now.Add(-age)
	if err := os.Chtimes(path, mt, mt); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestCleanDisk(t *testing.T) {
	t.Parallel()

	const mb = 1024 * 1024
	now := time.Now()

	setup := func(t *testing.T) (Config, string) {
		dir := t.TempDir()
		tmp := filepath.Join(dir, "tmp")
		sparse(t, filepath.Join(tmp, "old.bin"), 60*mb, now, 10*24*time.Hour)
		sparse(t, filepath.Join(tmp, "nested", "older.log"), 5*mb, now, 40*24*time.Hour)
		sparse(t, filepath.Join(tmp, "busy.part"), 10*mb, now, 10*time.Second)
		cfg := Config{DiskRoots: map[task.DiskCategory][]string{
			task.DiskTemp:       {filepath.ToSlash(tmp) + "/**"},
			task.DiskThumbnails: {filepath.ToSlash(filepath.Join(dir, "thumbs")) + "/**"},
		}}
		return cfg, tmp
	}

	cases := []struct {
		name       string
		opt        task.DiskOptions
		wantPrefix string
		wantGone   []string
		wantKept   []string
	}{
		{
			name:       "removes everything over threshold",
			opt:        task.DiskOptions{Categories: []task.DiskCategory{task.DiskTemp}, ThresholdMB: 50},
			wantPrefix: "freed 75 MiB",
			wantGone:   []string{"old.bin", "nested/older.log", "busy.part"},
		},
		{
			name:       "skip in use keeps fresh files",
			opt:        task.DiskOptions{Categories: []task.DiskCategory{task.DiskTemp}, ThresholdMB: 50, SkipInUse: true},
			wantPrefix: "freed 65 MiB",
			wantGone:   []string{"old.bin", "nested/older.log"},
			wantKept:   []string{"busy.part"},
		},
		{
			name:       "preserve recent days drops category below threshold",
			opt:        task.DiskOptions{Categories: []task.DiskCategory{task.DiskTemp}, ThresholdMB: 50, PreserveRecentDays: 30},
			wantPrefix: "freed 0 B (temp: 5.0 MiB below threshold)",
			wantKept:   []string{"old.bin", "nested/older.log", "busy.part"},
		},
		{
			name:       "dry run removes nothing",
			opt:        task.DiskOptions{Categories: []task.DiskCategory{task.DiskTemp, task.DiskThumbnails}, ThresholdMB: 50, DryRun: true},
			wantPrefix: "dry run: would free 75 MiB",
			wantKept:   []string{"old.bin", "nested/older.log", "busy.part"},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, tmp := setup(t)
			msg, err := cleanDisk(context.Background(), cfg.withDefaults(), tc.opt, now, logx.Nop())
			if err != nil {
				t.Fatal(err)
			}
			if !strings.HasPrefix(msg, tc.wantPrefix) {
				t.Fatalf("msg=%q want prefix %q", msg, tc.wantPrefix)
			}
			for _, f := range tc.wantGone {
				if exists(filepath.Join(tmp, f)) {
					t.Fatalf("%s still exists", f)
				}
			}
			for _, f := range tc.wantKept {
				if !exists(filepath.Join(tmp, f)) {
					t.Fatalf("%s was removed", f)
				}
			}
		})
	}
}

func TestCleanDiskHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opt := task.DiskOptions{Categories: []task.DiskCategory{task.DiskTemp}, ThresholdMB: 50}
	cfg := Config{DiskRoots: map[task.DiskCategory][]string{task.DiskTemp: {t.TempDir() + "/**"}}}
	if _, err := cleanDisk(ctx, cfg, opt, time.Now(), logx.Nop()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
}

func TestPatternsExpandHome(t *testing.T) {
	t.Parallel()

	cfg := Config{Home: "/home/ana", DiskRoots: map[task.DiskCategory][]string{task.DiskTrash: {"~/.local/share/Trash/**", " "}}}
	got := cfg.patterns(task.DiskTrash)
	if !reflect.DeepEqual(got, []string{"/home/ana/.local/share/Trash/**"}) {
		t.Fatalf("patterns=%q", got)
	}
	if len(cfg.patterns(task.DiskDownloads)) == 0 {
		t.Fatal("missing category must fall back to defaults")
	}
}

type fakeUnits struct {
	calls []string
	fail  map[string]error
}

func (f *fakeUnits) do(op, unit string) error {
	f.calls = append(f.calls, op+" "+unit)
	return f.fail[op]
}

func (f *fakeUnits) Start(ctx context.Context, unit string) error   { return f.do("start", unit) }
func (f *fakeUnits) Stop(ctx context.Context, unit string) error    { return f.do("stop", unit) }
func (f *fakeUnits) Enable(ctx context.Context, unit string) error  { return f.do("enable", unit) }
func (f *fakeUnits) Disable(ctx context.Context, unit string) error { return f.do("disable", unit) }

func TestToggleDefender(t *testing.T) {
	t.Parallel()

	cases := []struct {
		opt       task.DefenderOptions
		wantCalls []string
		wantMsg   string
	}{
		{task.DefenderOptions{Enable: true}, []string{"start clamav-daemon.service"}, "clamav-daemon.service started"},
		{task.DefenderOptions{Enable: true, Permanent: true}, []string{"enable clamav-daemon.service", "start clamav-daemon.service"}, "clamav-daemon.service enabled and started"},
		{task.DefenderOptions{Enable: false}, []string{"stop clamav-daemon.service"}, "clamav-daemon.service stopped"},
		{task.DefenderOptions{Enable: false, Permanent: true}, []string{"stop clamav-daemon.service", "disable clamav-daemon.service"}, "clamav-daemon.service stopped and disabled"},
	}
	for _, tc := range cases {
		units := &fakeUnits{}
		l := New(Config{}, units, logx.Nop())
		msg, err := l.ToggleDefender(context.Background(), tc.opt)
		if err != nil {
			t.Fatalf("%+v: %v", tc.opt, err)
		}
		if msg != tc.wantMsg || !reflect.DeepEqual(units.calls, tc.wantCalls) {
			t.Fatalf("%+v: msg=%q calls=%q", tc.opt, msg, units.calls)
		}
	}

	units := &fakeUnits{fail: map[string]error{"stop": fmt.Errorf("stop: %w", systemdmanager.ErrNoSuchUnit)}}
	_, err := New(Config{DefenderUnit: "av"}, units, logx.Nop()).ToggleDefender(context.Background(), task.DefenderOptions{})
	if err == nil || !dispatch.IsNoRetry(err) {
		t.Fatalf("missing unit must be permanent, got %v", err)
	}
	if units.calls[0] != "stop av.service" {
		t.Fatalf("calls=%q", units.calls)
	}

	if _, err := New(Config{}, nil, logx.Nop()).ToggleDefender(context.Background(), task.DefenderOptions{}); err == nil {
		t.Fatal("nil controller must fail")
	}
}

type statefulUnits struct {
	fakeUnits
	active, enabled bool
}

func (s *statefulUnits) IsActive(ctx context.Context, unit string) (bool, error)  { return s.active, nil }
func (s *statefulUnits) IsEnabled(ctx context.Context, unit string) (bool, error) { return s.enabled, nil }

func TestToggleDefenderSkipsWhenInState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	units := &statefulUnits{active: true}
	msg, err := New(Config{}, units, logx.Nop()).ToggleDefender(ctx, task.DefenderOptions{Enable: true})
	if err != nil || msg != "clamav-daemon.service already active" || len(units.calls) != 0 {
		t.Fatalf("msg=%q err=%v calls=%q", msg, err, units.calls)
	}

	// Active but not enabled: a permanent enable still has work to do.
	msg, err = New(Config{}, units, logx.Nop()).ToggleDefender(ctx, task.DefenderOptions{Enable: true, Permanent: true})
	if err != nil || len(units.calls) != 2 {
		t.Fatalf("msg=%q err=%v calls=%q", msg, err, units.calls)
	}

	units = &statefulUnits{}
	msg, err = New(Config{}, units, logx.Nop()).ToggleDefender(ctx, task.DefenderOptions{Permanent: true})
	if err != nil || msg != "clamav-daemon.service already inactive" || len(units.calls) != 0 {
		t.Fatalf("msg=%q err=%v calls=%q", msg, err, units.calls)
	}
}
