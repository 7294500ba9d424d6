// Package systemdmanager starts, stops, enables and disables systemd units.
package systemdmanager

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrClosed     = errors.New("systemd connection is closed")
	ErrNoSuchUnit = errors.New("no such unit")
)

// UnitStatus is the subset of unit state maintd cares about.
type UnitStatus struct {
	Name      string `json:"name"`
	LoadState string `json:"load_state"` // loaded, not-found, ...
	Active    string `json:"active"`     // active, inactive, failed, ...
	SubState  string `json:"sub_state"`  // running, dead, ...
	Enabled   bool   `json:"enabled"`
}

func (s UnitStatus) IsActive() bool { return s.Active == "active" }

// UnitName appends ".service" when unit carries no type suffix.
func UnitName(unit string) string {
	unit = strings.TrimSpace(unit)
	if i := strings.LastIndexByte(unit, '.'); i > 0 {
		switch unit[i+1:] {
		case "service", "socket", "timer", "target", "path", "mount":
			return unit
		}
	}
	return unit + ".service"
}

// FormatActionResult renders a short human message for a unit operation.
func FormatActionResult(unit, action string, err error) string {
	if err != nil {
		return fmt.Sprintf("failed to %s %s: %v", action, unit, err)
	}
	switch action {
	case "start":
		return fmt.Sprintf("%s started", unit)
	case "stop":
		return fmt.Sprintf("%s stopped", unit)
	case "enable":
		return fmt.Sprintf("%s enabled", unit)
	case "disable":
		return fmt.Sprintf("%s disabled", unit)
	}
	return fmt.Sprintf("%s %s ok", unit, action)
}
