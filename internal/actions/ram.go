package actions

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/dustin/go-humanize"

	"maintd/internal/task"
	"maintd/internal/task/dispatch"
	logx "maintd/pkg/logx"
)

// cleanRAM syncs dirty pages and drops the page cache. Below
// opt.MinUsagePercent it reports success without touching anything.
func cleanRAM(ctx context.Context, cfg Config, opt task.RAMOptions, log logx.Logger) (string, error) {
	before, err := readMemInfo(ctx, cfg.ProcRoot)
	if err != nil {
		return "", dispatch.NoRetry(err)
	}
	usage := before.UsedPercent()
	if opt.MinUsagePercent > 0 && usage < opt.MinUsagePercent {
		return fmt.Sprintf("ram usage %.0f%% below %.0f%%; nothing to do", usage, opt.MinUsagePercent), nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	debug.FreeOSMemory()
	if cfg.DropCaches {
		syncFilesystems()
		p := filepath.Join(cfg.ProcRoot, "sys", "vm", "drop_caches")
		// 1 drops the page cache only; dentries and inodes stay warm.
		if err := os.WriteFile(p, []byte("1\n"), 0o644); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return "", dispatch.NoRetry(fmt.Errorf("drop caches: %w (maintd must run as root)", err))
			}
			return "", fmt.Errorf("drop caches: %w", err)
		}
	}

	after, err := readMemInfo(ctx, cfg.ProcRoot)
	if err != nil {
		return "", err
	}
	var freed uint64
	if after.Available > before.Available {
		freed = after.Available - before.Available
	}
	log.Debug("ram cleaned",
		logx.Float64("before_pct", usage),
		logx.Float64("after_pct", after.UsedPercent()),
		logx.Uint64("freed", freed),
	)
	return fmt.Sprintf("ram usage %.0f%% -> %.0f%%, freed %s", usage, after.UsedPercent(), humanize.IBytes(freed)), nil
}
