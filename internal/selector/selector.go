// Package selector decides who receives which items on each channel.
package selector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"expirybot/internal/catalog"
	"expirybot/internal/format"
	"expirybot/internal/phone"
)

// ErrNoSnapshot is returned when no completed inventory upload exists.
var ErrNoSnapshot = errors.New("selector: no completed inventory snapshot")

const DefaultInactiveDays = 30

type Options struct {
	InactiveDays int
	CountryCode  string
	// Location defines the calendar used for the inactivity cutoff.
	Location *time.Location
}

func (o Options) withDefaults() Options {
	if o.InactiveDays <= 0 {
		o.InactiveDays = DefaultInactiveDays
	}
	if strings.TrimSpace(o.CountryCode) == "" {
		o.CountryCode = phone.DefaultCountryCode
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// VendorRecipient is one contact and its filtered items.
type VendorRecipient struct {
	Contact catalog.Contact
	Items   []format.Item
}

type VendorPlan struct {
	Upload     catalog.Upload
	Recipients []VendorRecipient
	// SkippedEmpty lists contacts whose interests matched no item.
	SkippedEmpty []catalog.Contact
	// Eligible is the number of active contacts considered.
	Eligible int
}

type ClientRecipient struct {
	Customer catalog.Customer
	Phone    string
}

type SkippedCustomer struct {
	Customer catalog.Customer
	Reason   string
}

type ClientPlan struct {
	Upload         catalog.Upload
	Items          []format.Item
	Recipients     []ClientRecipient
	SkippedInvalid []SkippedCustomer
	Cutoff         time.Time
}

// Eligible counts customers past the inactivity cutoff, valid phone or not.
func (p ClientPlan) Eligible() int { return len(p.Recipients) + len(p.SkippedInvalid) }

type Selector struct {
	src catalog.Source

	mu   sync.RWMutex
	opts Options
}

func New(src catalog.Source, opts Options) *Selector {
	return &Selector{src: src, opts: opts.withDefaults()}
}

// Apply replaces the options used by subsequent plans.
func (s *Selector) Apply(opts Options) {
	s.mu.Lock()
	s.opts = opts.withDefaults()
	s.mu.Unlock()
}

func (s *Selector) options() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

// alertItems pulls the three alert tiers of the latest upload, most severe first.
func (s *Selector) alertItems(ctx context.Context) (catalog.Upload, map[format.Tier][]format.Item, error) {
	up, err := s.src.LatestUpload(ctx)
	if errors.Is(err, catalog.ErrNoUpload) {
		return catalog.Upload{}, nil, ErrNoSnapshot
	}
	if err != nil {
		return catalog.Upload{}, nil, err
	}
	byTier := make(map[format.Tier][]format.Item, len(format.AlertTiers))
	for _, t := range format.AlertTiers {
		items, err := s.src.ItemsByTier(ctx, up.ID, t)
		if err != nil {
			return catalog.Upload{}, nil, err
		}
		byTier[t] = items
	}
	return up, byTier, nil
}

// VendorPlan builds per-contact item lists for the vendor channel.
func (s *Selector) VendorPlan(ctx context.Context) (VendorPlan, error) {
	up, byTier, err := s.alertItems(ctx)
	if err != nil {
		return VendorPlan{}, err
	}
	contacts, err := s.src.ActiveContacts(ctx)
	if err != nil {
		return VendorPlan{}, fmt.Errorf("contacts: %w", err)
	}

	plan := VendorPlan{Upload: up}
	for _, c := range contacts {
		if !c.CanReceiveAlerts() {
			continue
		}
		plan.Eligible++
		items := collect(byTier, Interests(c.Interests))
		if len(items) == 0 {
			plan.SkippedEmpty = append(plan.SkippedEmpty, c)
			continue
		}
		plan.Recipients = append(plan.Recipients, VendorRecipient{Contact: c, Items: items})
	}
	return plan, nil
}

// ClientPlan selects inactive customers with a usable mobile number. Every
// recipient gets the same combined item list.
func (s *Selector) ClientPlan(ctx context.Context, now time.Time) (ClientPlan, error) {
	opts := s.options()
	up, byTier, err := s.alertItems(ctx)
	if err != nil {
		return ClientPlan{}, err
	}

	local := now.In(opts.Location)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	cutoff := today.AddDate(0, 0, -opts.InactiveDays)

	customers, err := s.src.InactiveCustomers(ctx, cutoff)
	if err != nil {
		return ClientPlan{}, fmt.Errorf("customers: %w", err)
	}

	plan := ClientPlan{Upload: up, Items: collect(byTier, format.AlertTiers), Cutoff: cutoff}
	for _, c := range customers {
		p, err := phone.Mobile(c.Mobile, opts.CountryCode)
		if err != nil {
			plan.SkippedInvalid = append(plan.SkippedInvalid, SkippedCustomer{
				Customer: c,
				Reason:   fmt.Sprintf("invalid phone %q", strings.TrimSpace(c.Mobile)),
			})
			continue
		}
		plan.Recipients = append(plan.Recipients, ClientRecipient{Customer: c, Phone: p})
	}
	return plan, nil
}

// Interests parses a registry notification_types value into alert tiers.
// Unset, malformed, or lists naming no alert tier fall back to all three.
func Interests(raw string) []format.Tier {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return format.AlertTiers
	}
	var labels []string
	if err := json.Unmarshal([]byte(raw), &labels); err != nil {
		return format.AlertTiers
	}
	want := map[format.Tier]bool{}
	for _, t := range format.ParseTiers(labels) {
		want[t] = true
	}
	out := make([]format.Tier, 0, len(format.AlertTiers))
	for _, t := range format.AlertTiers {
		if want[t] {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return format.AlertTiers
	}
	return out
}

// collect concatenates the wanted tiers in severity order, dropping repeated
// item IDs.
func collect(byTier map[format.Tier][]format.Item, tiers []format.Tier) []format.Item {
	want := map[format.Tier]bool{}
	for _, t := range tiers {
		want[t] = true
	}
	seen := map[int64]bool{}
	var out []format.Item
	for _, t := range format.AlertTiers {
		if !want[t] {
			continue
		}
		for _, it := range byTier[t] {
			if seen[it.ID] {
				continue
			}
			seen[it.ID] = true
			out = append(out, it)
		}
	}
	return out
}
