package systemdmanager

import (
	"errors"
	"testing"
)

func TestUnitName(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"clamav-daemon", "clamav-daemon.service"},
		{" clamav-daemon ", "clamav-daemon.service"},
		{"clamav-daemon.service", "clamav-daemon.service"},
		{"clamav-freshclam.timer", "clamav-freshclam.timer"},
		{"foo.bar", "foo.bar.service"},
	}
	for _, tc := range cases {
		if got := UnitName(tc.in); got != tc.want {
			t.Fatalf("UnitName(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatActionResult(t *testing.T) {
	t.Parallel()

	if got := FormatActionResult("x.service", "stop", nil); got != "x.service stopped" {
		t.Fatalf("got %q", got)
	}
	if got := FormatActionResult("x.service", "start", errors.New("denied")); got != "failed to start x.service: denied" {
		t.Fatalf("got %q", got)
	}
}
