package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expirybot/internal/catalog"
	"expirybot/internal/format"
)

type fakeSource struct {
	upload    catalog.Upload
	uploadErr error
	items     map[format.Tier][]format.Item
	contacts  []catalog.Contact
	customers []catalog.Customer
	cutoff    time.Time
}

func (f *fakeSource) LatestUpload(context.Context) (catalog.Upload, error) {
	return f.upload, f.uploadErr
}

func (f *fakeSource) ItemsByTier(_ context.Context, _ int64, t format.Tier) ([]format.Item, error) {
	return f.items[t], nil
}

func (f *fakeSource) ActiveContacts(context.Context) ([]catalog.Contact, error) {
	return f.contacts, nil
}

func (f *fakeSource) ContactByPhone(_ context.Context, p string) (catalog.Contact, error) {
	for _, c := range f.contacts {
		if c.Phone == p {
			return c, nil
		}
	}
	return catalog.Contact{}, catalog.ErrNotFound
}

func (f *fakeSource) InactiveCustomers(_ context.Context, cutoff time.Time) ([]catalog.Customer, error) {
	f.cutoff = cutoff
	return f.customers, nil
}

func (f *fakeSource) Close() error { return nil }

func item(id int64, class string) format.Item {
	return format.Item{ID: id, Description: "item", Class: class}
}

func source() *fakeSource {
	return &fakeSource{
		upload: catalog.Upload{ID: 7},
		items: map[format.Tier][]format.Item{
			format.TierVeryCritical: {item(1, "MUITO CRÍTICO"), item(2, "MUITO CRÍTICO")},
			format.TierCritical:     {item(3, "CRÍTICO"), item(2, "CRÍTICO")},
			format.TierAttention:    {item(4, "ATENÇÃO")},
			format.TierExpired:      {item(9, "VENCIDO")},
		},
	}
}

func ids(items []format.Item) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestInterests(t *testing.T) {
	t.Parallel()

	all := format.AlertTiers
	cases := []struct {
		raw  string
		want []format.Tier
	}{
		{"", all},
		{"null", all},
		{"not json", all},
		{`{"a":1}`, all},
		{`[]`, all},
		{`["VENCIDO"]`, all},
		{`["CRÍTICO"]`, []format.Tier{format.TierCritical}},
		{`["ATENÇÃO","MUITO CRÍTICO","ATENÇÃO"]`, []format.Tier{format.TierVeryCritical, format.TierAttention}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Interests(tc.raw), tc.raw)
	}
}

func TestVendorPlan(t *testing.T) {
	t.Parallel()

	src := source()
	src.contacts = []catalog.Contact{
		{ID: 1, Phone: "a", Active: true},
		{ID: 2, Phone: "b", Active: true, Interests: `["ATENÇÃO"]`},
		{ID: 3, Phone: "c", Active: false},
		{ID: 4, Phone: "d", Active: true, Interests: `["CRITICO"]`},
	}
	src.items[format.TierCritical] = nil

	plan, err := New(src, Options{}).VendorPlan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, plan.Eligible)
	require.Len(t, plan.Recipients, 2)
	assert.Equal(t, []int64{1, 2, 4}, ids(plan.Recipients[0].Items))
	assert.Equal(t, []int64{4}, ids(plan.Recipients[1].Items))
	require.Len(t, plan.SkippedEmpty, 1)
	assert.Equal(t, int64(4), plan.SkippedEmpty[0].ID)
}

func TestVendorPlanDedupsAndExcludesExpired(t *testing.T) {
	t.Parallel()

	src := source()
	src.contacts = []catalog.Contact{{ID: 1, Phone: "a", Active: true, Interests: `["VENCIDO","MUITO CRITICO","CRITICO"]`}}

	plan, err := New(src, Options{}).VendorPlan(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.Recipients, 1)
	assert.Equal(t, []int64{1, 2, 3}, ids(plan.Recipients[0].Items))
}

func TestVendorPlanNoSnapshot(t *testing.T) {
	t.Parallel()

	src := source()
	src.uploadErr = catalog.ErrNoUpload
	_, err := New(src, Options{}).VendorPlan(context.Background())
	assert.True(t, errors.Is(err, ErrNoSnapshot))
}

func TestClientPlan(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/Cuiaba")
	require.NoError(t, err)

	src := source()
	src.customers = []catalog.Customer{
		{ID: 1, Mobile: "(66) 99610-9797"},
		{ID: 2, Mobile: "VERIFICAR"},
		{ID: 3, Mobile: "5566999557737"},
		{ID: 4, Mobile: "065924198"},
	}

	// 02:00 UTC on the 10th is still the 9th in Cuiaba.
	now := time.Date(2026, 6, 10, 2, 0, 0, 0, time.UTC)
	plan, err := New(src, Options{InactiveDays: 30, Location: loc}).ClientPlan(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC), src.cutoff)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(plan.Items))
	require.Len(t, plan.Recipients, 2)
	assert.Equal(t, "5566996109797", plan.Recipients[0].Phone)
	assert.Equal(t, "5566999557737", plan.Recipients[1].Phone)
	require.Len(t, plan.SkippedInvalid, 2)
	assert.Equal(t, 4, plan.Eligible())
}
