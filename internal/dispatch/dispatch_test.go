package dispatch

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expirybot/internal/catalog"
	"expirybot/internal/eventbus"
	"expirybot/internal/format"
	"expirybot/internal/gateway"
	"expirybot/internal/governor"
	"expirybot/internal/lock"
	"expirybot/internal/selector"
	"expirybot/internal/storage"
	logx "expirybot/pkg/logx"
)

func instantGovernor() *governor.Governor {
	return governor.New(governor.Config{}, governor.WithSleep(func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}))
}

func newTestService(p Planner, snd Sender, l storage.Ledger, opts ...Option) *Service {
	opts = append([]Option{WithClock(func() time.Time { return testNow }), WithLogger(logx.Nop())}, opts...)
	return New(Config{Location: time.UTC, VendorCap: 25, ClientCap: 20}, snd, l, p, instantGovernor(), opts...)
}

func TestDedupSkipsWithoutGatewayCalls(t *testing.T) {
	t.Parallel()

	p := &fakePlanner{vendor: vendorPlan("5566999990001", "5566999990002")}
	snd := &fakeSender{}
	l := newMemLedger()
	s := newTestService(p, snd, l)
	ctx := context.Background()

	first, err := s.RunVendors(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Sent)
	assert.Equal(t, 2, first.TotalRecipients)
	require.Len(t, snd.Calls(), 2)

	second, err := s.RunVendors(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Sent)
	assert.Equal(t, 2, second.SkippedDedup)
	assert.Equal(t, 2, second.Skipped)
	assert.Len(t, snd.Calls(), 2, "no gateway calls for deduplicated recipients")

	forced, err := s.RunVendors(ctx, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, forced.Sent)
	assert.Len(t, snd.Calls(), 4)
	assert.Equal(t, 4, l.count(storage.StatusSent))
}

func TestForceTwiceBothSend(t *testing.T) {
	t.Parallel()

	p := &fakePlanner{vendor: vendorPlan("5566999990001")}
	snd := &fakeSender{}
	s := newTestService(p, snd, newMemLedger())

	for i := 0; i < 2; i++ {
		sum, err := s.RunVendors(context.Background(), Options{Force: true})
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Sent)
	}
	assert.Len(t, snd.Calls(), 2)
}

func TestDedupIsPerCategory(t *testing.T) {
	t.Parallel()

	p := &fakePlanner{
		vendor: vendorPlan("5566996109797"),
		client: selector.ClientPlan{
			Items:      items(2, "CRÍTICO"),
			Recipients: []selector.ClientRecipient{{Customer: catalog.Customer{ID: 1, TradeName: "Farmácia"}, Phone: "5566996109797"}},
		},
	}
	snd := &fakeSender{}
	s := newTestService(p, snd, newMemLedger())

	_, err := s.RunVendors(context.Background(), Options{})
	require.NoError(t, err)
	sum, err := s.RunClients(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
	assert.Len(t, snd.Calls(), 2)
}

func TestPartsAreSentInOrderWithOneRowEach(t *testing.T) {
	t.Parallel()

	plan := vendorPlan("5566999990001")
	plan.Recipients[0].Items = items(30, "CRÍTICO")
	snd := &fakeSender{}
	l := newMemLedger()
	s := newTestService(&fakePlanner{vendor: plan}, snd, l)

	sum, err := s.RunVendors(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Sent)

	calls := snd.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].Text, "Parte 1 de 2")
	assert.Contains(t, calls[1].Text, "Parte 2 de 2")

	rows := l.Rows()
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, storage.StatusSent, r.Status)
		assert.Equal(t, storage.CategoryVendor, r.Category)
	}
}

func TestChunkFailureDoesNotStopRun(t *testing.T) {
	t.Parallel()

	plan := vendorPlan("5566999990001", "5566999990002")
	plan.Recipients[0].Items = items(30, "CRÍTICO")
	snd := &fakeSender{fail: func(n int, _, _ string) error {
		if n == 1 {
			return &gateway.Error{StatusCode: 400, Attempts: 1, Body: "bad number"}
		}
		return nil
	}}
	l := newMemLedger()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	s := newTestService(&fakePlanner{vendor: plan}, snd, l, WithBus(bus))
	sum, err := s.RunVendors(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.Sent)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, 1, sum.Errors[0].Part)
	assert.Contains(t, sum.Errors[0].Error, "bad number")
	assert.Equal(t, 1, l.count(storage.StatusFailed))
	assert.Equal(t, 2, l.count(storage.StatusSent))
	assert.Len(t, snd.Calls(), 3)

	types := map[string]int{}
	for len(events) > 0 {
		e := <-events
		types[e.Type]++
	}
	assert.Equal(t, 1, types[eventbus.DispatchFailed])
	assert.Equal(t, 2, types[eventbus.DispatchSent])
	assert.Equal(t, 1, types[eventbus.DispatchRunFinished])
}

func TestStoreErrorAbortsOnlyThatRecipient(t *testing.T) {
	t.Parallel()

	l := newMemLedger()
	l.failCheck["5566999990001"] = errors.New("database is locked")
	snd := &fakeSender{}
	s := newTestService(&fakePlanner{vendor: vendorPlan("5566999990001", "5566999990002")}, snd, l)

	sum, err := s.RunVendors(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Aborted)
	assert.Equal(t, 1, sum.Sent)
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0].Error, "dedup check")
	assert.Equal(t, []string{"5566999990002"}, phonesOf(snd.Calls()))
}

func TestErrorSampleIsCapped(t *testing.T) {
	t.Parallel()

	phones := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		phones = append(phones, "55669999900"+string(rune('1'+i%9))+string(rune('0'+i/9)))
	}
	snd := &fakeSender{fail: func(int, string, string) error { return errors.New("down") }}
	s := newTestService(&fakePlanner{vendor: vendorPlan(phones...)}, snd, newMemLedger())

	sum, err := s.RunVendors(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 25, sum.Failed)
	assert.Len(t, sum.Errors, DefaultMaxErrors)
	assert.Equal(t, 25, sum.ErrorsTotal)
}

func TestInvalidPhoneSkipped(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{}
	s := newTestService(&fakePlanner{vendor: vendorPlan("sem número", "5566999990002")}, snd, newMemLedger())

	sum, err := s.RunVendors(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SkippedNoPhone)
	assert.Equal(t, 1, sum.Sent)
}

func TestNoSnapshotIsReportedNotFailed(t *testing.T) {
	t.Parallel()

	s := newTestService(&fakePlanner{vendorErr: selector.ErrNoSnapshot}, &fakeSender{}, newMemLedger())
	sum, err := s.RunVendors(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, msgNoSnapshot, sum.Message)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, TriggerManual, sum.Trigger)
}

func TestClientRun(t *testing.T) {
	t.Parallel()

	last := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	p := &fakePlanner{client: selector.ClientPlan{
		Items: items(47, "CRÍTICO"),
		Recipients: []selector.ClientRecipient{
			{Customer: catalog.Customer{ID: 1, TradeName: "Drogaria Central", LastPurchase: &last}, Phone: "5566996109797"},
		},
		SkippedInvalid: []selector.SkippedCustomer{{Customer: catalog.Customer{ID: 2, Mobile: "VERIFICAR"}, Reason: "invalid"}},
	}}
	snd := &fakeSender{}
	l := newMemLedger()
	s := newTestService(p, snd, l)

	sum, err := s.RunClients(context.Background(), Options{Trigger: TriggerSchedule})
	require.NoError(t, err)
	assert.Equal(t, ChannelClient, sum.Channel)
	assert.Equal(t, 3, sum.Sent)
	assert.Equal(t, 1, sum.SkippedNoPhone)
	assert.Equal(t, 2, sum.TotalRecipients)

	calls := snd.Calls()
	require.Len(t, calls, 3)
	assert.True(t, containsAll(calls[0].Text, "Drogaria Central", "02/03/2026", "Parte 1 de 3"))
	assert.Contains(t, calls[2].Text, "Parte 3 de 3")
	for _, r := range l.Rows() {
		assert.Equal(t, storage.CategoryClient, r.Category)
	}
}

func TestClientRunWithoutItems(t *testing.T) {
	t.Parallel()

	s := newTestService(&fakePlanner{client: selector.ClientPlan{}}, &fakeSender{}, newMemLedger())
	sum, err := s.RunClients(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, msgNoProducts, sum.Message)
}

func TestConcurrentRunReturnsInFlight(t *testing.T) {
	t.Parallel()

	p := &fakePlanner{
		vendor:  vendorPlan("5566999990001"),
		entered: make(chan struct{}),
		release: make(chan struct{}),
		client:  selector.ClientPlan{Items: items(1, "CRÍTICO")},
	}
	s := newTestService(p, &fakeSender{}, newMemLedger())

	done := make(chan error, 1)
	go func() {
		_, err := s.RunVendors(context.Background(), Options{})
		done <- err
	}()
	<-p.entered

	_, err := s.RunVendors(context.Background(), Options{Force: true})
	assert.ErrorIs(t, err, ErrRunInFlight)
	assert.Contains(t, s.InFlight(), ChannelVendor)

	// Other channels are independent.
	_, err = s.RunClients(context.Background(), Options{})
	assert.NoError(t, err)

	close(p.release)
	require.NoError(t, <-done)
	assert.Empty(t, s.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Drain(ctx))
}

type heldLocker struct{ calls atomic.Int32 }

func (h *heldLocker) Acquire(context.Context, string) (func(context.Context) error, error) {
	h.calls.Add(1)
	return nil, lock.ErrHeld
}

func TestRemoteLockHeldReturnsInFlight(t *testing.T) {
	t.Parallel()

	lk := &heldLocker{}
	s := newTestService(&fakePlanner{vendor: vendorPlan("5566999990001")}, &fakeSender{}, newMemLedger(), WithLocker(lk))

	_, err := s.RunVendors(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrRunInFlight)
	assert.Equal(t, int32(1), lk.calls.Load())
	assert.Empty(t, s.InFlight())
}

func TestCancelledWaitFinalizesPendingRow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gov := governor.New(governor.Config{}, governor.WithSleep(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))
	snd := &fakeSender{}
	l := newMemLedger()
	s := New(Config{Location: time.UTC}, snd, l, &fakePlanner{vendor: vendorPlan("5566999990001", "5566999990002")}, gov,
		WithClock(func() time.Time { return testNow }))

	sum, err := s.RunVendors(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, sum.Cancelled)
	assert.Empty(t, snd.Calls())

	rows := l.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, storage.StatusFailed, rows[0].Status)
	assert.Equal(t, "cancelled", rows[0].Error)
}

func TestSendOne(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{}
	l := newMemLedger()
	s := newTestService(&fakePlanner{}, snd, l)
	ctx := context.Background()

	res, err := s.SendOne(ctx, "(66) 99610-9797", "Olá")
	require.NoError(t, err)
	assert.Equal(t, "sent", res.Status)
	assert.Equal(t, "5566996109797", res.Phone)
	assert.NotEmpty(t, res.RecordID)

	rows := l.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, storage.CategoryAdhoc, rows[0].Category)

	// No dedup for ad-hoc sends.
	_, err = s.SendOne(ctx, "5566996109797", "Olá de novo")
	require.NoError(t, err)
	assert.Len(t, snd.Calls(), 2)

	_, err = s.SendOne(ctx, "5566996109797", "  ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	res, err = s.SendOne(ctx, "n/a", "x")
	assert.Error(t, err)
	assert.Equal(t, "invalid", res.Status)
	assert.Len(t, snd.Calls(), 2)
}

func TestSendOneGatewayFailure(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{fail: func(int, string, string) error { return &gateway.Error{StatusCode: 401, Attempts: 1} }}
	l := newMemLedger()
	s := newTestService(&fakePlanner{}, snd, l)

	res, err := s.SendOne(context.Background(), "5566996109797", "x")
	require.Error(t, err)
	assert.Equal(t, "failed", res.Status)
	assert.Equal(t, 1, l.count(storage.StatusFailed))
}

func TestSendTestUsesCannedMessage(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{}
	s := newTestService(&fakePlanner{}, snd, newMemLedger())

	_, err := s.SendTest(context.Background(), "5566996109797")
	require.NoError(t, err)
	calls := snd.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, format.TestMessage(testNow, time.UTC), calls[0].Text)
}

func TestHandleInbound(t *testing.T) {
	t.Parallel()

	contacts := fakeContacts{
		"5566999990001": {ID: 1, Phone: "5566999990001", Active: true, CanQueryAI: true},
		"5566999990002": {ID: 2, Phone: "5566999990002", Active: true},
	}
	snd := &fakeSender{}
	l := newMemLedger()
	answered := make(chan string, 1)
	ans := AnswererFunc(func(_ context.Context, msg InboundMessage, from catalog.Contact) (string, error) {
		answered <- msg.Text
		return "Resposta para " + strings.ToUpper(msg.Text), nil
	})
	s := newTestService(&fakePlanner{}, snd, l, WithContacts(contacts), WithAnswerer(ans))
	ctx := context.Background()

	res, err := s.HandleInbound(ctx, InboundMessage{Phone: "5566999990009", Text: "oi"})
	require.NoError(t, err)
	assert.Equal(t, "unauthorized", res.Reason)

	res, err = s.HandleInbound(ctx, InboundMessage{Phone: "5566999990002", Text: "oi"})
	require.NoError(t, err)
	assert.Equal(t, "unauthorized", res.Reason)

	res, err = s.HandleInbound(ctx, InboundMessage{Phone: "5566999990001", Text: " "})
	require.NoError(t, err)
	assert.Equal(t, "empty_text", res.Reason)

	res, err = s.HandleInbound(ctx, InboundMessage{Phone: "5566999990001", Text: "estoque?"})
	require.NoError(t, err)
	assert.Equal(t, "accepted", res.Status)
	assert.Equal(t, "estoque?", <-answered)

	dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, s.Drain(dctx))

	calls := snd.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Resposta para ESTOQUE?", calls[0].Text)

	rows := l.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, storage.Inbound, rows[0].Direction)
	assert.Equal(t, storage.StatusSent, rows[0].Status)
	assert.Equal(t, storage.Outbound, rows[1].Direction)
}

func TestTransientRetriesLeaveOneSentRow(t *testing.T) {
	t.Parallel()

	mt := httpmock.NewMockTransport()
	var calls atomic.Int32
	mt.RegisterResponder(http.MethodPost, "http://evolution.test/message/sendText/akram", func(*http.Request) (*http.Response, error) {
		if calls.Add(1) < 3 {
			return httpmock.NewStringResponse(503, "unavailable"), nil
		}
		return httpmock.NewStringResponse(201, `{}`), nil
	})
	gw := gateway.New(gateway.Config{
		BaseURL:      "http://evolution.test",
		APIKey:       "k",
		Instance:     "akram",
		RetryBase:    time.Millisecond,
		RetryPenalty: time.Millisecond,
	}, gateway.WithHTTPClient(&http.Client{Transport: mt}))

	ledger, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "ledger")}, logx.Nop())
	require.NoError(t, err)
	defer ledger.Close()

	s := New(Config{Location: time.UTC}, gw, ledger, &fakePlanner{vendor: vendorPlan("5566999990001")}, instantGovernor())
	sum, err := s.RunVendors(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, int32(3), calls.Load())

	page, err := ledger.List(context.Background(), storage.Query{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, storage.StatusSent, page.Items[0].Status)
}
