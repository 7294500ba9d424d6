package actions

import (
	"os"
	"path/filepath"
	"strings"

	"maintd/internal/task"
)

const DefaultDefenderUnit = "clamav-daemon"

type Config struct {
	// DefenderUnit is the systemd unit toggled by ToggleDefender.
	DefenderUnit string
	// DropCaches writes to /proc/sys/vm/drop_caches on CleanRAM.
	DropCaches bool
	// DiskRoots maps each category to doublestar glob patterns. "~" expands to
	// the home directory. Missing categories fall back to DefaultDiskRoots.
	DiskRoots map[task.DiskCategory][]string
	// DiskPath is the mount point sampled for disk_usage_percent.
	DiskPath string
	// ProcRoot is where meminfo and sys/vm live. Defaults to /proc.
	ProcRoot string
	// Home overrides the home directory used for "~".
	Home string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.DefenderUnit) == "" {
		c.DefenderUnit = DefaultDefenderUnit
	}
	if c.DiskPath == "" {
		c.DiskPath = "/"
	}
	if c.ProcRoot == "" {
		c.ProcRoot = "/proc"
	}
	if c.Home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			c.Home = h
		}
	}
	return c
}

// DefaultDiskRoots lists the glob patterns cleaned for each category.
func DefaultDiskRoots() map[task.DiskCategory][]string {
	return map[task.DiskCategory][]string{
		task.DiskTemp: {
			filepath.Join(os.TempDir(), "**"),
			"/var/tmp/**",
		},
		task.DiskBrowserCache: {
			"~/.cache/mozilla/firefox/*/cache2/**",
			"~/.cache/google-chrome/*/Cache/**",
			"~/.cache/chromium/*/Cache/**",
			"~/.cache/BraveSoftware/Brave-Browser/*/Cache/**",
		},
		task.DiskThumbnails: {
			"~/.cache/thumbnails/**",
		},
		task.DiskTrash: {
			"~/.local/share/Trash/files/**",
			"~/.local/share/Trash/info/**",
		},
		task.DiskSystemCache: {
			"/var/cache/apt/archives/*.deb",
			"/var/cache/pacman/pkg/*",
			"/var/cache/dnf/**",
		},
		task.DiskLogs: {
			"/var/log/**/*.gz",
			"/var/log/**/*.[0-9]",
			"/var/log/**/*.old",
		},
		task.DiskDownloads: {
			"~/Downloads/**",
		},
	}
}

func (c Config) patterns(cat task.DiskCategory) []string {
	src := c.DiskRoots[cat]
	if len(src) == 0 {
		src = DefaultDiskRoots()[cat]
	}
	out := make([]string, 0, len(src))
	for _, p := range src {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if c.Home != "" && (p == "~" || strings.HasPrefix(p, "~/")) {
			p = filepath.Join(c.Home, strings.TrimPrefix(p, "~"))
		}
		out = append(out, filepath.ToSlash(p))
	}
	return out
}
