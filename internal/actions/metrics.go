package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/common"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"maintd/internal/task"
)

// MemInfo holds the memory figures used for usage math, in bytes.
type MemInfo struct {
	Total     uint64
	Available uint64
}

func (m MemInfo) UsedPercent() float64 {
	if m.Total == 0 {
		return 0
	}
	used := m.Total - min(m.Available, m.Total)
	return float64(used) * 100 / float64(m.Total)
}

// hostContext points gopsutil at procRoot when it is not the live /proc.
func hostContext(ctx context.Context, procRoot string) context.Context {
	if procRoot == "" || procRoot == "/proc" {
		return ctx
	}
	return context.WithValue(ctx, common.EnvKey, common.EnvMap{common.HostProcEnvKey: procRoot})
}

func readMemInfo(ctx context.Context, procRoot string) (MemInfo, error) {
	vm, err := mem.VirtualMemoryWithContext(hostContext(ctx, procRoot))
	if err != nil {
		return MemInfo{}, fmt.Errorf("meminfo: %w", err)
	}
	if vm.Total == 0 {
		return MemInfo{}, errors.New("meminfo: MemTotal missing")
	}
	return MemInfo{Total: vm.Total, Available: vm.Available}, nil
}

func diskUsedPercent(ctx context.Context, path string) (float64, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("disk usage %s: %w", path, err)
	}
	if u.Total == 0 {
		return 0, fmt.Errorf("disk usage %s: zero-sized filesystem", path)
	}
	return u.UsedPercent, nil
}

// Sampler reads RAM and disk usage for condition schedules.
type Sampler struct {
	procRoot string
	diskPath string
}

func NewSampler(cfg Config) *Sampler {
	cfg = cfg.withDefaults()
	return &Sampler{procRoot: cfg.ProcRoot, diskPath: cfg.DiskPath}
}

// Sample returns whatever metrics could be read. The error is non-nil when
// any source failed; a metric that failed is absent from the map.
func (s *Sampler) Sample(ctx context.Context) (task.Metrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := task.Metrics{}
	var errs []error
	if mi, err := readMemInfo(ctx, s.procRoot); err != nil {
		errs = append(errs, err)
	} else {
		m[task.MetricRAMUsage] = mi.UsedPercent()
	}
	if pct, err := diskUsedPercent(ctx, s.diskPath); err != nil {
		errs = append(errs, err)
	} else {
		m[task.MetricDiskUsage] = pct
	}
	return m, errors.Join(errs...)
}
