package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"expirybot/internal/eventbus"
	"expirybot/internal/format"
	"expirybot/internal/phone"
	"expirybot/internal/storage"
	logx "expirybot/pkg/logx"
)

// ChannelAdhoc tags events of single sends.
const ChannelAdhoc Channel = "adhoc"

// ErrEmptyMessage rejects blank single sends.
var ErrEmptyMessage = errors.New("dispatch: empty message")

// SendOne delivers one message outside any campaign. It is recorded in the
// ledger and paced like a campaign part, but never deduplicated or split.
func (s *Service) SendOne(ctx context.Context, to, text string) (SendResult, error) {
	cfg := s.config()
	if strings.TrimSpace(text) == "" {
		return SendResult{Status: "invalid", Phone: to, Error: ErrEmptyMessage.Error()}, ErrEmptyMessage
	}
	p, err := phone.Wire(to, cfg.CountryCode)
	if err != nil {
		return SendResult{Status: "invalid", Phone: to, Error: err.Error()}, err
	}

	res := SendResult{Phone: p}
	rec, err := s.ledger.Record(ctx, storage.Draft{Phone: p, Message: text, Category: storage.CategoryAdhoc})
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
		return res, fmt.Errorf("ledger insert: %w", err)
	}
	res.RecordID = rec.ID

	if err := s.gov.NewRun().Wait(ctx); err != nil {
		_ = s.finalize(ctx, rec.ID, storage.StatusFailed, "cancelled")
		res.Status = string(storage.StatusFailed)
		res.Error = err.Error()
		return res, err
	}

	ev := DeliveryEvent{Channel: ChannelAdhoc, Phone: p, RecordID: rec.ID, Part: 1, Parts: 1}
	started := time.Now()
	d, sendErr := s.sender.Send(ctx, p, text)
	ev.Latency = time.Since(started)
	ev.Attempts = d.Attempts
	if sendErr != nil {
		ev.Err = sendErr.Error()
		s.publish(eventbus.DispatchFailed, ev)
		if err := s.finalize(ctx, rec.ID, storage.StatusFailed, sendErr.Error()); err != nil {
			s.log.Error("ledger finalize failed", logx.String("id", rec.ID), logx.Err(err))
		}
		s.log.Warn("single send failed", logx.String("phone", p), logx.Err(sendErr))
		res.Status = string(storage.StatusFailed)
		res.Error = sendErr.Error()
		return res, sendErr
	}

	s.publish(eventbus.DispatchSent, ev)
	if err := s.finalize(ctx, rec.ID, storage.StatusSent, ""); err != nil {
		s.log.Error("ledger finalize failed", logx.String("id", rec.ID), logx.Err(err))
	}
	res.Status = string(storage.StatusSent)
	return res, nil
}

// SendTest delivers the canned connectivity test message.
func (s *Service) SendTest(ctx context.Context, to string) (SendResult, error) {
	return s.SendOne(ctx, to, format.TestMessage(s.now(), s.config().Location))
}
