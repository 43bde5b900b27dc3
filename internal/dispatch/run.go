package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"expirybot/internal/eventbus"
	"expirybot/internal/format"
	"expirybot/internal/gateway"
	"expirybot/internal/governor"
	"expirybot/internal/phone"
	"expirybot/internal/selector"
	"expirybot/internal/storage"
	logx "expirybot/pkg/logx"
)

// Run outcome messages.
const (
	msgNoSnapshot       = "Nenhum arquivo processado encontrado"
	msgNoContacts       = "Nenhum número ativo cadastrado"
	msgNoProducts       = "Nenhum produto crítico encontrado"
	msgNoInactiveClient = "Nenhum cliente inativo com telefone válido"
)

// Skip reasons carried on dispatch.skipped events.
const (
	ReasonDedup        = "already_notified_today"
	ReasonInvalidPhone = "invalid_phone"
	ReasonNoItems      = "no_items"
)

type target struct {
	phone    string
	name     string
	category storage.Category
}

// runState is what one run carries between recipients.
type runState struct {
	cfg   Config
	sum   *Summary
	pace  *governor.Run
	day   storage.Day
	now   time.Time
	force bool
	log   logx.Logger
}

// RunVendors alerts every registered contact about the items matching
// their interests.
func (s *Service) RunVendors(ctx context.Context, opt Options) (Summary, error) {
	return s.execute(ctx, ChannelVendor, opt, s.vendorRun)
}

// RunClients alerts inactive customers about the current alert items.
func (s *Service) RunClients(ctx context.Context, opt Options) (Summary, error) {
	return s.execute(ctx, ChannelClient, opt, s.clientRun)
}

func (s *Service) execute(ctx context.Context, ch Channel, opt Options, body func(context.Context, *runState) error) (Summary, error) {
	runID := uuid.NewString()
	release, err := s.begin(ctx, ch, runID)
	if err != nil {
		return Summary{}, err
	}
	defer release()

	if opt.Trigger == "" {
		opt.Trigger = TriggerManual
	}
	cfg := s.config()
	now := s.now()
	sum := Summary{
		Channel:   ch,
		Trigger:   opt.Trigger,
		RunID:     runID,
		Force:     opt.Force,
		StartedAt: now,
		maxErrors: cfg.MaxErrors,
	}

	ctx, span := s.tracer.Start(ctx, "dispatch.run", trace.WithAttributes(
		attribute.String("dispatch.channel", string(ch)),
		attribute.String("dispatch.trigger", string(opt.Trigger)),
		attribute.Bool("dispatch.force", opt.Force),
	))
	defer span.End()

	log := s.log.With(logx.String("channel", string(ch)), logx.String("run_id", runID))
	log.Info("dispatch run started", logx.String("trigger", string(opt.Trigger)), logx.Bool("force", opt.Force))

	st := &runState{
		cfg:   cfg,
		sum:   &sum,
		pace:  s.gov.NewRun(),
		day:   storage.DayIn(now, cfg.Location),
		now:   now,
		force: opt.Force,
		log:   log,
	}
	err = body(ctx, st)
	if ctx.Err() != nil {
		sum.Cancelled = true
	}
	sum.finish(s.now())

	span.SetAttributes(
		attribute.Int("dispatch.sent", sum.Sent),
		attribute.Int("dispatch.failed", sum.Failed),
		attribute.Int("dispatch.skipped", sum.Skipped),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("dispatch run failed", logx.Err(err))
	} else {
		log.Info("dispatch run finished",
			logx.Int("sent", sum.Sent),
			logx.Int("failed", sum.Failed),
			logx.Int("skipped_dedup", sum.SkippedDedup),
			logx.Int("skipped_no_phone", sum.SkippedNoPhone),
			logx.Int("skipped_empty", sum.SkippedEmpty),
			logx.Int("aborted", sum.Aborted),
			logx.Int("recipients", sum.TotalRecipients),
			logx.Bool("cancelled", sum.Cancelled),
			logx.Duration("took", sum.Duration()),
		)
	}
	s.publish(eventbus.DispatchRunFinished, sum)
	return sum, err
}

func (s *Service) vendorRun(ctx context.Context, st *runState) error {
	plan, err := s.planner.VendorPlan(ctx)
	if errors.Is(err, selector.ErrNoSnapshot) {
		st.sum.Message = msgNoSnapshot
		return nil
	}
	if err != nil {
		return fmt.Errorf("vendor plan: %w", err)
	}
	st.sum.TotalRecipients = plan.Eligible
	if plan.Eligible == 0 {
		st.sum.Message = msgNoContacts
		return nil
	}
	for _, c := range plan.SkippedEmpty {
		st.sum.SkippedEmpty++
		s.skipped(st, c.Phone, ReasonNoItems)
	}

	for _, r := range plan.Recipients {
		if ctx.Err() != nil {
			st.sum.Cancelled = true
			return nil
		}
		to, err := phone.Wire(r.Contact.Phone, st.cfg.CountryCode)
		if err != nil {
			st.sum.SkippedNoPhone++
			s.skipped(st, r.Contact.Phone, ReasonInvalidPhone)
			continue
		}
		items := r.Items
		s.deliver(ctx, st, target{phone: to, name: r.Contact.Name, category: storage.CategoryVendor}, func() (format.Rendered, error) {
			return format.RenderVendor(items, format.Options{Now: st.now, Location: st.cfg.Location, ItemCap: st.cfg.VendorCap})
		})
	}
	return nil
}

func (s *Service) clientRun(ctx context.Context, st *runState) error {
	plan, err := s.planner.ClientPlan(ctx, st.now)
	if errors.Is(err, selector.ErrNoSnapshot) {
		st.sum.Message = msgNoSnapshot
		return nil
	}
	if err != nil {
		return fmt.Errorf("client plan: %w", err)
	}
	st.sum.TotalRecipients = plan.Eligible()
	if len(plan.Items) == 0 {
		st.sum.Message = msgNoProducts
		return nil
	}
	for _, sk := range plan.SkippedInvalid {
		st.sum.SkippedNoPhone++
		s.skipped(st, sk.Customer.Mobile, ReasonInvalidPhone)
	}
	if len(plan.Recipients) == 0 {
		st.sum.Message = msgNoInactiveClient
		return nil
	}

	for _, r := range plan.Recipients {
		if ctx.Err() != nil {
			st.sum.Cancelled = true
			return nil
		}
		who := format.Client{Name: r.Customer.DisplayName(), LastPurchase: r.Customer.LastPurchase}
		s.deliver(ctx, st, target{phone: r.Phone, name: who.Name, category: storage.CategoryClient}, func() (format.Rendered, error) {
			return format.RenderClient(who, plan.Items, format.Options{Now: st.now, Location: st.cfg.Location, ItemCap: st.cfg.ClientCap})
		})
	}
	return nil
}

// deliver sends every part of one recipient's message. Gateway failures are
// recorded and the next part is still attempted; ledger failures abort the
// recipient.
func (s *Service) deliver(ctx context.Context, st *runState, t target, render func() (format.Rendered, error)) {
	if !st.force {
		done, err := s.ledger.WasNotifiedToday(ctx, t.phone, t.category, st.day)
		if err != nil {
			s.abort(st, t, 0, fmt.Errorf("dedup check: %w", err))
			return
		}
		if done {
			st.sum.SkippedDedup++
			s.skipped(st, t.phone, ReasonDedup)
			return
		}
	}

	rendered, err := render()
	if errors.Is(err, format.ErrEmptyPayload) {
		st.sum.SkippedEmpty++
		s.skipped(st, t.phone, ReasonNoItems)
		return
	}
	if err != nil {
		s.abort(st, t, 0, fmt.Errorf("render: %w", err))
		return
	}

	parts := rendered.Count()
	for i, text := range rendered.Parts {
		part := i + 1
		if ctx.Err() != nil {
			st.sum.Cancelled = true
			return
		}

		rec, err := s.ledger.Record(ctx, storage.Draft{Phone: t.phone, Message: text, Category: t.category})
		if err != nil {
			s.abort(st, t, part, fmt.Errorf("ledger insert: %w", err))
			return
		}
		if err := st.pace.Wait(ctx); err != nil {
			_ = s.finalize(ctx, rec.ID, storage.StatusFailed, "cancelled")
			st.sum.Cancelled = true
			return
		}

		ev := DeliveryEvent{
			Channel:  Channel(t.category),
			RunID:    st.sum.RunID,
			Phone:    t.phone,
			RecordID: rec.ID,
			Part:     part,
			Parts:    parts,
		}
		started := time.Now()
		// The part in flight completes even if the run is being cancelled.
		d, sendErr := s.sender.Send(context.WithoutCancel(ctx), t.phone, text)
		ev.Latency = time.Since(started)
		ev.Attempts = d.Attempts

		if sendErr != nil {
			var gerr *gateway.Error
			if errors.As(sendErr, &gerr) {
				ev.Attempts = gerr.Attempts
			}
			ev.Err = sendErr.Error()
			st.sum.Failed++
			st.sum.addError(ErrorDetail{Phone: t.phone, Name: t.name, Part: part, Error: sendErr.Error()})
			st.log.Warn("part delivery failed",
				logx.String("phone", t.phone),
				logx.Int("part", part),
				logx.Int("parts", parts),
				logx.Err(sendErr),
			)
			s.publish(eventbus.DispatchFailed, ev)
			if err := s.finalize(ctx, rec.ID, storage.StatusFailed, sendErr.Error()); err != nil {
				s.abort(st, t, part, fmt.Errorf("ledger finalize: %w", err))
				return
			}
			continue
		}

		st.sum.Sent++
		st.log.Debug("part delivered", logx.String("phone", t.phone), logx.Int("part", part), logx.Int("parts", parts))
		s.publish(eventbus.DispatchSent, ev)
		if err := s.finalize(ctx, rec.ID, storage.StatusSent, ""); err != nil {
			s.abort(st, t, part, fmt.Errorf("ledger finalize: %w", err))
			return
		}
	}
}

// finalize writes the outcome even when ctx is already cancelled.
func (s *Service) finalize(ctx context.Context, id string, status storage.Status, errText string) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return s.ledger.Finalize(fctx, id, status, errText)
}

func (s *Service) abort(st *runState, t target, part int, err error) {
	st.sum.Aborted++
	st.sum.addError(ErrorDetail{Phone: t.phone, Name: t.name, Part: part, Error: err.Error()})
	st.log.Error("recipient aborted", logx.String("phone", t.phone), logx.Err(err))
	s.publish(eventbus.DispatchAborted, DeliveryEvent{
		Channel: Channel(t.category),
		RunID:   st.sum.RunID,
		Phone:   t.phone,
		Part:    part,
		Err:     err.Error(),
	})
}

func (s *Service) skipped(st *runState, who, reason string) {
	st.log.Debug("recipient skipped", logx.String("phone", who), logx.String("reason", reason))
	s.publish(eventbus.DispatchSkipped, DeliveryEvent{
		Channel: st.sum.Channel,
		RunID:   st.sum.RunID,
		Phone:   who,
		Reason:  reason,
	})
}
