package storage

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: record not found")
)

// PreviewLimit caps stored message and error text (runes).
const PreviewLimit = 500

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

// Category is the dedup namespace of a delivery.
type Category string

const (
	CategoryVendor Category = "vendor"
	CategoryClient Category = "client"
	CategoryAdhoc  Category = "adhoc"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL at DSN
//   - "file": JSON Lines files next to Path
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	AutoMigrate bool
}

// Record is one ledger row.
type Record struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Message   string    `json:"message"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Direction Direction `json:"direction"`
	Category  Category  `json:"category"`
	SentAt    time.Time `json:"sent_at"`
}

// Draft is a row about to be inserted. Status defaults to pending and
// Direction to outbound.
type Draft struct {
	Phone     string
	Message   string
	Category  Category
	Direction Direction
	Status    Status
	At        time.Time
}

// Day is the [Start, End) instant window of one local calendar date.
type Day struct {
	Start time.Time
	End   time.Time
}

// DayIn returns the calendar day containing now in loc.
func DayIn(now time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	l := now.In(loc)
	start := time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
	return Day{Start: start, End: start.AddDate(0, 0, 1)}
}

func (d Day) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

// Query filters List. Zero values mean "any".
type Query struct {
	Page     int
	PageSize int
	Phone    string
	Category Category
	Status   Status
}

func (q Query) normalized() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 50
	}
	if q.PageSize > 500 {
		q.PageSize = 500
	}
	return q
}

func (q Query) offset() int { return (q.Page - 1) * q.PageSize }

// Page is one page of records, newest first.
type Page struct {
	Items      []Record `json:"items"`
	Total      int      `json:"total"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	TotalPages int      `json:"total_pages"`
}

func newPage(q Query, items []Record, total int) Page {
	if items == nil {
		items = []Record{}
	}
	return Page{
		Items:      items,
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: (total + q.PageSize - 1) / q.PageSize,
	}
}

// Preview caps a message for storage, appending "..." when cut.
func Preview(msg string) string {
	r := []rune(msg)
	if len(r) <= PreviewLimit {
		return msg
	}
	return string(r[:PreviewLimit]) + "..."
}

// clip caps error text without a marker.
func clip(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= PreviewLimit {
		return string(r)
	}
	return string(r[:PreviewLimit])
}

func (d Draft) normalized() Draft {
	if d.Status == "" {
		d.Status = StatusPending
	}
	if d.Direction == "" {
		d.Direction = Outbound
	}
	if d.Category == "" {
		d.Category = CategoryAdhoc
	}
	if d.At.IsZero() {
		d.At = time.Now()
	}
	d.At = d.At.UTC()
	d.Message = Preview(d.Message)
	return d
}
