package sqlutil

import (
	"testing"
	"time"
)

func TestRebind(t *testing.T) {
	t.Parallel()

	q := "a = ? AND b IN (?, ?)"
	if got := Rebind(q, true); got != "a = $1 AND b IN ($2, $3)" {
		t.Fatalf("got %q", got)
	}
	if got := Rebind(q, false); got != q {
		t.Fatalf("got %q", got)
	}
}

func TestNullTimeScan(t *testing.T) {
	t.Parallel()

	want := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		in    any
		valid bool
	}{
		{"nil", nil, false},
		{"time", want, true},
		{"date text", "2026-03-09", true},
		{"date bytes", []byte("2026-03-09"), true},
		{"timestamp text", "2026-03-09 00:00:00", true},
		{"empty", "", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			var n NullTime
			if err := n.Scan(tc.in); err != nil {
				t.Fatalf("scan: %v", err)
			}
			if n.Valid != tc.valid {
				t.Fatalf("valid=%v want %v", n.Valid, tc.valid)
			}
			if tc.valid && !n.Time.Equal(want) {
				t.Fatalf("time=%v want %v", n.Time, want)
			}
			if !tc.valid && n.Ptr() != nil {
				t.Fatalf("expected nil ptr")
			}
		})
	}

	var n NullTime
	if err := n.Scan("03/09/2026"); err == nil {
		t.Fatalf("expected error for unknown layout")
	}
}
