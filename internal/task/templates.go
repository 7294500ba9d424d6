package task

import (
	"sort"
	"time"
)

// Template is a ready-made draft offered to users.
type Template struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Draft       Draft  `json:"draft"`
}

var templates = map[string]func() Template{
	"ram-monitor": func() Template {
		return Template{
			Name:        "ram-monitor",
			Description: "Free RAM when usage reaches 85%",
			Draft: Draft{
				Name:   "RAM monitor",
				Action: CleanRAM(RAMOptions{}),
				Schedule: OnCondition(Condition{
					Metric:     MetricRAMUsage,
					Comparison: CmpGTE,
					Threshold:  85,
				}),
			},
		}
	},
	"daily-disk": func() Template {
		return Template{
			Name:        "daily-disk",
			Description: "Clean temp files and caches every day at 02:00",
			Draft: Draft{
				Name: "Daily disk cleanup",
				Action: CleanDisk(DiskOptions{
					Categories:  []DiskCategory{DiskTemp, DiskBrowserCache, DiskThumbnails},
					ThresholdMB: 100,
					SkipInUse:   true,
				}),
				Schedule: DailyAt("02:00"),
			},
		}
	},
	"weekly-defender": func() Template {
		return Template{
			Name:        "weekly-defender",
			Description: "Stop the antivirus service every Monday at 09:00",
			Draft: Draft{
				Name:     "Weekly defender off",
				Action:   ToggleDefender(false, false),
				Schedule: WeeklyAt(time.Monday, "09:00"),
			},
		}
	},
}

// Templates returns every template sorted by name.
func Templates() []Template {
	out := make([]Template, 0, len(templates))
	for _, mk := range templates {
		out = append(out, mk())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FromTemplate returns a fresh draft for the named template.
func FromTemplate(name string) (Draft, error) {
	mk, ok := templates[name]
	if !ok {
		return Draft{}, invalid("template", "unknown template %q", name)
	}
	tpl := mk()
	d := tpl.Draft
	if d.Description == "" {
		d.Description = tpl.Description
	}
	return d, nil
}
