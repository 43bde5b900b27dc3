// Package gateway is the Evolution API client used to deliver WhatsApp text messages.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"expirybot/internal/phone"
	logx "expirybot/pkg/logx"
)

const (
	DefaultTimeout       = 45 * time.Second
	DefaultStatusTimeout = 10 * time.Second
	DefaultMaxAttempts   = 3
	DefaultRetryBase     = 2 * time.Second
	DefaultRetryPenalty  = 10 * time.Second
	DefaultTypingDelay   = 1500 * time.Millisecond

	bodySnippet = 200
)

// Config is the resolved gateway configuration.
type Config struct {
	BaseURL     string
	APIKey      string
	Instance    string
	CountryCode string

	Timeout       time.Duration // per send attempt
	StatusTimeout time.Duration
	MaxAttempts   int
	RetryBase     time.Duration // wait before attempt n+1 is RetryBase*n
	RetryPenalty  time.Duration // added per attempt after 429/5xx
	TypingDelay   time.Duration // provider-side "composing" delay
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.CountryCode == "" {
		c.CountryCode = phone.DefaultCountryCode
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.StatusTimeout <= 0 {
		c.StatusTimeout = DefaultStatusTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RetryPenalty < 0 {
		c.RetryPenalty = 0
	}
	if c.TypingDelay <= 0 {
		c.TypingDelay = DefaultTypingDelay
	}
	return c
}

// Delivery is a successful send.
type Delivery struct {
	Phone      string          `json:"phone"`
	Attempts   int             `json:"attempts"`
	StatusCode int             `json:"status_code"`
	Response   json.RawMessage `json:"response,omitempty"`
}

// Client talks to one Evolution API instance. Safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	log    logx.Logger
	tracer trace.Tracer
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests, proxies).
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithLogger(log logx.Logger) Option { return func(c *Client) { c.log = log } }

func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg.withDefaults(),
		http:   &http.Client{},
		tracer: otel.Tracer("expirybot/gateway"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type sendTextRequest struct {
	Number      string          `json:"number"`
	TextMessage textMessageBody `json:"textMessage"`
	Options     sendOptions     `json:"options"`
}

type textMessageBody struct {
	Text string `json:"text"`
}

type sendOptions struct {
	Delay    int64  `json:"delay"`
	Presence string `json:"presence"`
}

// Send delivers text to a phone, retrying transient failures. Failures are *Error.
func (c *Client) Send(ctx context.Context, to, text string) (Delivery, error) {
	if c.cfg.BaseURL == "" || c.cfg.Instance == "" {
		return Delivery{}, &Error{Err: ErrNotConfigured}
	}
	number, err := phone.Wire(to, c.cfg.CountryCode)
	if err != nil {
		return Delivery{}, &Error{Err: err}
	}
	payload, err := json.Marshal(sendTextRequest{
		Number:      number,
		TextMessage: textMessageBody{Text: text},
		Options:     sendOptions{Delay: c.cfg.TypingDelay.Milliseconds(), Presence: "composing"},
	})
	if err != nil {
		return Delivery{}, &Error{Err: err}
	}

	ctx, span := c.tracer.Start(ctx, "gateway.send", trace.WithAttributes(
		attribute.String("gateway.instance", c.cfg.Instance),
		attribute.Int("message.length", len(text)),
	))
	defer span.End()

	endpoint := c.cfg.BaseURL + "/message/sendText/" + url.PathEscape(c.cfg.Instance)
	log := c.log.With(logx.String("phone", number))

	var (
		attempts int
		penalize bool
		last     *Error
		out      Delivery
	)
	op := func() error {
		attempts++
		res, code, body, err := c.post(ctx, endpoint, payload)
		if err == nil {
			out = Delivery{Phone: number, Attempts: attempts, StatusCode: code, Response: res}
			return nil
		}
		if ctx.Err() != nil {
			last = &Error{Transient: true, Attempts: attempts, Err: ctx.Err()}
			return backoff.Permanent(last)
		}
		last = &Error{
			Transient:  code == 0 || transientStatus(code),
			StatusCode: code,
			Attempts:   attempts,
			Body:       body,
			Err:        err,
		}
		penalize = code != 0 && transientStatus(code)
		log.Warn("gateway send attempt failed",
			logx.Int("attempt", attempts),
			logx.Int("max_attempts", c.cfg.MaxAttempts),
			logx.Int("status", code),
			logx.String("body", body),
			logx.Err(err),
		)
		if !last.Transient {
			return backoff.Permanent(last)
		}
		return last
	}

	policy := &attemptBackOff{base: c.cfg.RetryBase, penalty: c.cfg.RetryPenalty, penalize: &penalize}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.MaxAttempts-1)), ctx)
	notify := func(err error, wait time.Duration) {
		log.Debug("gateway retry scheduled", logx.Duration("wait", wait), logx.Int("attempt", attempts+1))
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		switch {
		case last == nil:
			last = &Error{Transient: true, Attempts: attempts, Err: err}
		case ctx.Err() != nil && !errors.Is(last, ctx.Err()):
			// Cancelled while waiting for the next attempt.
			last = &Error{Transient: true, StatusCode: last.StatusCode, Body: last.Body, Err: ctx.Err()}
		}
		last.Attempts = attempts
		span.RecordError(last)
		span.SetStatus(codes.Error, "send failed")
		span.SetAttributes(attribute.Int("gateway.attempts", attempts), attribute.Int("http.status_code", last.StatusCode))
		return Delivery{}, last
	}
	span.SetAttributes(attribute.Int("gateway.attempts", attempts), attribute.Int("http.status_code", out.StatusCode))
	log.Debug("gateway message delivered", logx.Int("attempts", attempts))
	return out, nil
}

// SendAlert delivers an operator alert in a single attempt. It satisfies
// logx.AlertSender and never logs at WARN, so failures cannot loop back.
func (c *Client) SendAlert(ctx context.Context, to, text string) error {
	number, err := phone.Wire(to, c.cfg.CountryCode)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(sendTextRequest{
		Number:      number,
		TextMessage: textMessageBody{Text: text},
		Options:     sendOptions{Presence: "composing"},
	})
	if err != nil {
		return err
	}
	_, _, _, err = c.post(ctx, c.cfg.BaseURL+"/message/sendText/"+url.PathEscape(c.cfg.Instance), payload)
	return err
}

// post issues one attempt. On failure it returns the status (0 when no
// response) and the first bodySnippet chars of the body.
func (c *Client) post(ctx context.Context, endpoint string, payload []byte) (json.RawMessage, int, string, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := snip(body)
		if snippet == "" {
			snippet = "no response body"
		}
		return nil, resp.StatusCode, snippet, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if !json.Valid(body) {
		body = nil
	}
	return body, resp.StatusCode, "", nil
}

func snip(body []byte) string {
	s := strings.TrimSpace(string(body))
	r := []rune(s)
	if len(r) > bodySnippet {
		return string(r[:bodySnippet])
	}
	return s
}

// attemptBackOff waits base*n before attempt n+1, plus penalty*n when the
// previous attempt got a 429/5xx.
type attemptBackOff struct {
	base     time.Duration
	penalty  time.Duration
	penalize *bool
	n        int
}

func (b *attemptBackOff) NextBackOff() time.Duration {
	b.n++
	d := b.base * time.Duration(b.n)
	if b.penalize != nil && *b.penalize {
		d += b.penalty * time.Duration(b.n)
	}
	return d
}

func (b *attemptBackOff) Reset() { b.n = 0 }

var _ backoff.BackOff = (*attemptBackOff)(nil)
