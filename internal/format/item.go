package format

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Item is one inventory row as rendered in alerts.
type Item struct {
	ID          int64
	Code        string
	Description string
	Package     string
	Expiry      *time.Time // calendar date, no zone
	Quantity    decimal.NullDecimal
	UnitPrice   decimal.NullDecimal // vendor channel
	AverageCost decimal.NullDecimal // client channel
	Branch      string
	Class       string
}

func (it Item) Tier() Tier { return Classify(it.Class) }

const (
	dateLayout = "02/01/2006"
	timeLayout = "15:04"
	missing    = "—"
	noDate     = "N/A"
)

// Money renders a two-decimal amount with comma thousands grouping
// ("1,234.56"). Missing values render as 0.
func Money(v decimal.NullDecimal) string {
	d := decimal.Zero
	if v.Valid {
		d = v.Decimal
	}
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

// Quantity renders a number without trailing zeros; missing renders as 0.
func Quantity(v decimal.NullDecimal) string {
	if !v.Valid {
		return "0"
	}
	return v.Decimal.String()
}

// Date renders a calendar date as dd/mm/yyyy, or N/A.
func Date(t *time.Time) string {
	if t == nil || t.IsZero() {
		return noDate
	}
	return t.Format(dateLayout)
}

func text(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return missing
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
