package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"expirybot/internal/catalog"
	"expirybot/internal/format"
	"expirybot/internal/gateway"
	"expirybot/internal/selector"
	"expirybot/internal/storage"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type sent struct {
	To   string
	Text string
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sent
	fail  func(n int, to, text string) error
}

func (f *fakeSender) Send(_ context.Context, to, text string) (gateway.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sent{To: to, Text: text})
	if f.fail != nil {
		if err := f.fail(len(f.calls), to, text); err != nil {
			return gateway.Delivery{}, err
		}
	}
	return gateway.Delivery{Phone: to, Attempts: 1, StatusCode: 201}, nil
}

func (f *fakeSender) Calls() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.calls...)
}

type memLedger struct {
	mu        sync.Mutex
	rows      []storage.Record
	failCheck map[string]error
	failWrite error
}

func newMemLedger() *memLedger { return &memLedger{failCheck: map[string]error{}} }

func (m *memLedger) WasNotifiedToday(_ context.Context, phone string, cat storage.Category, day storage.Day) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failCheck[phone]; err != nil {
		return false, err
	}
	for _, r := range m.rows {
		if r.Phone == phone && r.Category == cat && r.Status == storage.StatusSent &&
			r.Direction == storage.Outbound && day.Contains(r.SentAt) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memLedger) Record(_ context.Context, d storage.Draft) (storage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return storage.Record{}, m.failWrite
	}
	if d.Status == "" {
		d.Status = storage.StatusPending
	}
	if d.Direction == "" {
		d.Direction = storage.Outbound
	}
	r := storage.Record{
		ID:        fmt.Sprintf("r%d", len(m.rows)+1),
		Phone:     d.Phone,
		Message:   storage.Preview(d.Message),
		Status:    d.Status,
		Direction: d.Direction,
		Category:  d.Category,
		SentAt:    testNow,
	}
	m.rows = append(m.rows, r)
	return r, nil
}

func (m *memLedger) Finalize(_ context.Context, id string, status storage.Status, errText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows[i].Status = status
			m.rows[i].Error = errText
			m.rows[i].SentAt = testNow
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *memLedger) List(context.Context, storage.Query) (storage.Page, error) {
	return storage.Page{}, errors.New("not implemented")
}

func (m *memLedger) Close() error { return nil }

func (m *memLedger) Rows() []storage.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.Record(nil), m.rows...)
}

func (m *memLedger) count(status storage.Status) int {
	n := 0
	for _, r := range m.Rows() {
		if r.Status == status {
			n++
		}
	}
	return n
}

type fakePlanner struct {
	vendor    selector.VendorPlan
	vendorErr error
	client    selector.ClientPlan
	clientErr error

	// When set, VendorPlan signals entered and blocks until release closes.
	entered chan struct{}
	release chan struct{}
}

func (f *fakePlanner) VendorPlan(ctx context.Context) (selector.VendorPlan, error) {
	if f.entered != nil {
		close(f.entered)
		select {
		case <-f.release:
		case <-ctx.Done():
		}
	}
	return f.vendor, f.vendorErr
}

func (f *fakePlanner) ClientPlan(context.Context, time.Time) (selector.ClientPlan, error) {
	return f.client, f.clientErr
}

type fakeContacts map[string]catalog.Contact

func (f fakeContacts) ContactByPhone(_ context.Context, p string) (catalog.Contact, error) {
	c, ok := f[p]
	if !ok {
		return catalog.Contact{}, catalog.ErrNotFound
	}
	return c, nil
}

func items(n int, class string) []format.Item {
	out := make([]format.Item, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, format.Item{ID: int64(i + 1), Description: fmt.Sprintf("Produto %d", i+1), Class: class})
	}
	return out
}

func vendorPlan(phones ...string) selector.VendorPlan {
	p := selector.VendorPlan{Eligible: len(phones)}
	for i, ph := range phones {
		p.Recipients = append(p.Recipients, selector.VendorRecipient{
			Contact: catalog.Contact{ID: int64(i + 1), Phone: ph, Active: true},
			Items:   items(3, "MUITO CRÍTICO"),
		})
	}
	return p
}

func phonesOf(calls []sent) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.To)
	}
	sort.Strings(out)
	return out
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
