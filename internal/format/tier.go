package format

import "strings"

// Tier is the severity class of an inventory item.
type Tier int

const (
	TierUnknown Tier = iota
	TierAttention
	TierCritical
	TierVeryCritical
	TierExpired
)

// AlertTiers are the tiers pulled for alerts, most severe first.
// Expired items are informational and never alerted.
var AlertTiers = []Tier{TierVeryCritical, TierCritical, TierAttention}

// Classify maps a raw class label to a tier. Matching is on the uppercased
// label, in this order: MUITO, CRITICO/CRÍTICO, TEN/AMAREL/YELLOW, VENCIDO.
// The catalog selects alert rows with stricter filters (see catalog.tierFilters).
func Classify(label string) Tier {
	u := strings.ToUpper(strings.TrimSpace(label))
	switch {
	case u == "":
		return TierUnknown
	case strings.Contains(u, "MUITO"):
		return TierVeryCritical
	case strings.Contains(u, "CRITICO") || strings.Contains(u, "CRÍTICO"):
		return TierCritical
	case strings.Contains(u, "TEN") || strings.Contains(u, "AMAREL") || strings.Contains(u, "YELLOW"):
		return TierAttention
	case strings.Contains(u, "VENCIDO"):
		return TierExpired
	default:
		return TierUnknown
	}
}

// ParseTiers converts interest labels ("MUITO CRÍTICO", "CRITICO", ...) to
// tiers, dropping unknown labels and duplicates.
func ParseTiers(labels []string) []Tier {
	out := make([]Tier, 0, len(labels))
	seen := map[Tier]bool{}
	for _, l := range labels {
		t := Classify(l)
		if t == TierUnknown || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func (t Tier) Label() string {
	switch t {
	case TierVeryCritical:
		return "MUITO CRÍTICO"
	case TierCritical:
		return "CRÍTICO"
	case TierAttention:
		return "ATENÇÃO"
	case TierExpired:
		return "VENCIDO"
	default:
		return "OUTROS"
	}
}

func (t Tier) Emoji() string {
	switch t {
	case TierVeryCritical:
		return "⚫"
	case TierCritical:
		return "🔴"
	case TierAttention:
		return "🟡"
	default:
		return "⚪"
	}
}

func (t Tier) String() string { return t.Label() }

// displayLabel is the header text for an item: the tier label, or the raw
// class for items outside the known tiers.
func displayLabel(class string) string {
	if t := Classify(class); t != TierUnknown {
		return t.Label()
	}
	if s := strings.TrimSpace(class); s != "" {
		return s
	}
	return TierUnknown.Label()
}
