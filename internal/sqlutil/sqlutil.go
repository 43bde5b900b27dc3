// Package sqlutil holds the small pieces shared by the SQL-backed packages.
package sqlutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rebind rewrites ? placeholders to $n when dollar is set (postgres).
func Rebind(q string, dollar bool) string {
	if !dollar {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// NullTime scans DATE/TIMESTAMP columns from drivers that return either
// time.Time (lib/pq) or text (sqlite).
type NullTime struct {
	Time  time.Time
	Valid bool
}

func (n *NullTime) Scan(v any) error {
	n.Time, n.Valid = time.Time{}, false
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		n.Time, n.Valid = x, true
		return nil
	case int64:
		n.Time, n.Valid = time.Unix(x, 0).UTC(), true
		return nil
	case []byte:
		return n.parse(string(x))
	case string:
		return n.parse(x)
	default:
		return fmt.Errorf("sqlutil: cannot scan %T into time", v)
	}
}

func (n *NullTime) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t, true
			return nil
		}
	}
	return fmt.Errorf("sqlutil: unrecognized time %q", s)
}

// Ptr returns nil for an invalid value.
func (n NullTime) Ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
