package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"expirybot/internal/catalog"
	"expirybot/internal/eventbus"
	"expirybot/internal/storage"
	logx "expirybot/pkg/logx"
)

const fallbackReply = "Desculpe, estou enfrentando problemas técnicos no momento."

// InboundMessage is a text received from a contact.
type InboundMessage struct {
	Phone     string
	Text      string
	PushName  string
	MessageID string
}

type InboundResult struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	RecordID string `json:"record_id,omitempty"`
}

// Answerer produces the reply to an inbound question.
type Answerer interface {
	Answer(ctx context.Context, msg InboundMessage, from catalog.Contact) (string, error)
}

// AnswererFunc adapts a function to Answerer.
type AnswererFunc func(ctx context.Context, msg InboundMessage, from catalog.Contact) (string, error)

func (f AnswererFunc) Answer(ctx context.Context, msg InboundMessage, from catalog.Contact) (string, error) {
	return f(ctx, msg, from)
}

func ignored(reason string) InboundResult { return InboundResult{Status: "ignored", Reason: reason} }

// HandleInbound records a message from an authorized contact and, when an
// answerer is set, replies asynchronously through SendOne.
func (s *Service) HandleInbound(ctx context.Context, msg InboundMessage) (InboundResult, error) {
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		return ignored("empty_text"), nil
	}
	if s.contacts == nil {
		return ignored("unauthorized"), nil
	}
	from, err := s.contacts.ContactByPhone(ctx, msg.Phone)
	if errors.Is(err, catalog.ErrNotFound) || (err == nil && !from.CanQueryAI) {
		s.log.Warn("inbound from unauthorized sender", logx.String("phone", msg.Phone), logx.SkipAlert())
		return ignored("unauthorized"), nil
	}
	if err != nil {
		return InboundResult{}, fmt.Errorf("contact lookup: %w", err)
	}

	rec, err := s.ledger.Record(ctx, storage.Draft{
		Phone:     msg.Phone,
		Message:   msg.Text,
		Category:  storage.CategoryAdhoc,
		Direction: storage.Inbound,
		Status:    storage.StatusSent,
	})
	if err != nil {
		return InboundResult{}, fmt.Errorf("ledger insert: %w", err)
	}
	s.publish(eventbus.DispatchInbound, DeliveryEvent{Channel: ChannelAdhoc, Phone: msg.Phone, RecordID: rec.ID})
	s.log.Info("inbound message accepted", logx.String("phone", msg.Phone), logx.Int("len", len(msg.Text)))

	res := InboundResult{Status: "accepted", RecordID: rec.ID}
	if s.answerer == nil {
		res.Reason = "no_answerer"
		return res, nil
	}

	s.sup.Go("inbound.reply", func(ctx context.Context) error {
		answer, err := s.answerer.Answer(ctx, msg, from)
		if err != nil {
			s.log.Error("answer failed", logx.String("phone", msg.Phone), logx.Err(err))
			answer = fallbackReply
		}
		if strings.TrimSpace(answer) == "" {
			return nil
		}
		if _, err := s.SendOne(ctx, msg.Phone, answer); err != nil {
			s.log.Warn("reply not delivered", logx.String("phone", msg.Phone), logx.Err(err))
		}
		return nil
	})
	return res, nil
}
