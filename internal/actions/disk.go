package actions

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"

	"maintd/internal/task"
	logx "maintd/pkg/logx"
)

// inUseWindow is how recently a file must have been written to count as in use.
const inUseWindow = time.Minute

type diskFile struct {
	path string
	size int64
}

// categoryReport is the per-category result of one cleanup.
type categoryReport struct {
	Category    task.DiskCategory
	Reclaimable int64
	Freed       int64
	Removed     int
	Failed      int
	Kept        int
	BelowLimit  bool
}

func (r categoryReport) String() string {
	switch {
	case r.BelowLimit:
		return fmt.Sprintf("%s: %s below threshold", r.Category, humanize.IBytes(uint64(r.Reclaimable)))
	case r.Failed > 0:
		return fmt.Sprintf("%s: freed %s (%d files, %d failed)", r.Category, humanize.IBytes(uint64(r.Freed)), r.Removed, r.Failed)
	default:
		return fmt.Sprintf("%s: freed %s (%d files)", r.Category, humanize.IBytes(uint64(r.Freed)), r.Removed)
	}
}

// scanCategory lists the removable files of one category.
func scanCategory(cfg Config, cat task.DiskCategory, opt task.DiskOptions, now time.Time) ([]diskFile, int, error) {
	var (
		files []diskFile
		kept  int
		seen  = map[string]bool{}
	)
	var preserveCutoff time.Time
	if opt.PreserveRecentDays > 0 {
		preserveCutoff = now.AddDate(0, 0, -opt.PreserveRecentDays)
	}
	for _, pattern := range cfg.patterns(cat) {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly(), doublestar.WithNoFollow())
		if err != nil {
			return nil, 0, fmt.Errorf("%s: glob %q: %w", cat, pattern, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			fi, err := os.Lstat(m)
			if err != nil || !fi.Mode().IsRegular() {
				continue
			}
			mt := fi.ModTime()
			if opt.SkipInUse && now.Sub(mt) < inUseWindow {
				kept++
				continue
			}
			if !preserveCutoff.IsZero() && mt.After(preserveCutoff) {
				kept++
				continue
			}
			files = append(files, diskFile{path: m, size: fi.Size()})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, kept, nil
}

// cleanDisk removes the reclaimable files of each selected category whose
// total reaches opt.ThresholdMB. DryRun only measures.
func cleanDisk(ctx context.Context, cfg Config, opt task.DiskOptions, now time.Time, log logx.Logger) (string, error) {
	limit := int64(opt.ThresholdMB) * 1024 * 1024
	var (
		reports  []categoryReport
		attempts int
		failures int
		freed    int64
	)
	for _, cat := range opt.Categories {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		files, kept, err := scanCategory(cfg, cat, opt, now)
		if err != nil {
			return "", err
		}
		rep := categoryReport{Category: cat, Kept: kept}
		for _, f := range files {
			rep.Reclaimable += f.size
		}
		if rep.Reclaimable < limit {
			rep.BelowLimit = true
			reports = append(reports, rep)
			continue
		}
		for _, f := range files {
			if opt.DryRun {
				rep.Freed += f.size
				rep.Removed++
				continue
			}
			if err := ctx.Err(); err != nil {
				return "", err
			}
			attempts++
			if err := os.Remove(f.path); err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					rep.Failed++
					failures++
					log.Debug("disk remove failed", logx.String("path", f.path), logx.Err(err))
				}
				continue
			}
			rep.Freed += f.size
			rep.Removed++
		}
		freed += rep.Freed
		reports = append(reports, rep)
		log.Debug("disk category cleaned",
			logx.String("category", string(cat)),
			logx.Int64("freed", rep.Freed),
			logx.Int("removed", rep.Removed),
			logx.Int("failed", rep.Failed),
			logx.Int("kept", rep.Kept),
		)
	}

	parts := make([]string, 0, len(reports))
	for _, r := range reports {
		parts = append(parts, r.String())
	}
	summary := strings.Join(parts, "; ")
	if attempts > 0 && failures == attempts {
		return "", fmt.Errorf("no file could be removed: %s", summary)
	}
	prefix := "freed " + humanize.IBytes(uint64(freed))
	if opt.DryRun {
		prefix = "dry run: would free " + humanize.IBytes(uint64(freed))
	}
	return prefix + " (" + summary + ")", nil
}
