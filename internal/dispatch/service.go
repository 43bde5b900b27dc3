// Package dispatch runs notification campaigns: it asks the selector who
// gets what, renders messages, and delivers them one part at a time through
// the gateway while keeping the ledger in step.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"expirybot/internal/catalog"
	"expirybot/internal/eventbus"
	"expirybot/internal/gateway"
	"expirybot/internal/governor"
	"expirybot/internal/lock"
	"expirybot/internal/phone"
	"expirybot/internal/runtime/supervisor"
	"expirybot/internal/selector"
	"expirybot/internal/storage"
	logx "expirybot/pkg/logx"
)

// ErrRunInFlight is returned when a run for the same channel is active.
var ErrRunInFlight = errors.New("dispatch: run already in flight")

const DefaultMaxErrors = 20

// Sender delivers one text message.
type Sender interface {
	Send(ctx context.Context, to, text string) (gateway.Delivery, error)
}

// Planner selects recipients.
type Planner interface {
	VendorPlan(ctx context.Context) (selector.VendorPlan, error)
	ClientPlan(ctx context.Context, now time.Time) (selector.ClientPlan, error)
}

// Contacts resolves inbound senders against the registry.
type Contacts interface {
	ContactByPhone(ctx context.Context, phone string) (catalog.Contact, error)
}

// RunLocker is a cross-process lock keyed by channel.
type RunLocker interface {
	Acquire(ctx context.Context, name string) (func(context.Context) error, error)
}

// Config is the live-tunable part of the orchestrator.
type Config struct {
	Location    *time.Location
	CountryCode string
	VendorCap   int
	ClientCap   int
	MaxErrors   int
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if strings.TrimSpace(c.CountryCode) == "" {
		c.CountryCode = phone.DefaultCountryCode
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = DefaultMaxErrors
	}
	return c
}

type Service struct {
	sender   Sender
	ledger   storage.Ledger
	planner  Planner
	contacts Contacts
	gov      *governor.Governor

	locker   RunLocker
	answerer Answerer
	bus      eventbus.Bus
	log      logx.Logger
	sup      *supervisor.Supervisor
	ownSup   bool
	tracer   trace.Tracer
	now      func() time.Time

	mu  sync.RWMutex
	cfg Config

	guardMu  sync.Mutex
	inflight map[Channel]string
	runs     sync.WaitGroup
}

type Option func(*Service)

func WithLocker(l RunLocker) Option { return func(s *Service) { s.locker = l } }
func WithAnswerer(a Answerer) Option { return func(s *Service) { s.answerer = a } }
func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }
func WithLogger(l logx.Logger) Option { return func(s *Service) { s.log = l } }
func WithContacts(c Contacts) Option { return func(s *Service) { s.contacts = c } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithSupervisor(sup *supervisor.Supervisor) Option {
	return func(s *Service) { s.sup = sup }
}

func New(cfg Config, sender Sender, ledger storage.Ledger, planner Planner, gov *governor.Governor, opts ...Option) *Service {
	s := &Service{
		sender:   sender,
		ledger:   ledger,
		planner:  planner,
		gov:      gov,
		bus:      eventbus.Nop(),
		tracer:   otel.Tracer("expirybot/dispatch"),
		now:      time.Now,
		cfg:      cfg.withDefaults(),
		inflight: map[Channel]string{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.gov == nil {
		s.gov = governor.New(governor.Config{})
	}
	if s.sup == nil {
		s.sup = supervisor.NewSupervisor(context.Background(), supervisor.WithLogger(s.log))
		s.ownSup = true
	}
	return s
}

// Apply replaces the live-tunable settings; running campaigns keep theirs.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// InFlight returns the run ID per active channel.
func (s *Service) InFlight() map[Channel]string {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	out := make(map[Channel]string, len(s.inflight))
	for k, v := range s.inflight {
		out[k] = v
	}
	return out
}

// begin claims the channel locally and, when configured, across processes.
func (s *Service) begin(ctx context.Context, ch Channel, runID string) (func(), error) {
	s.guardMu.Lock()
	if _, busy := s.inflight[ch]; busy {
		s.guardMu.Unlock()
		return nil, ErrRunInFlight
	}
	s.inflight[ch] = runID
	s.runs.Add(1)
	s.guardMu.Unlock()

	free := func() {
		s.guardMu.Lock()
		delete(s.inflight, ch)
		s.guardMu.Unlock()
		s.runs.Done()
	}

	var unlock func(context.Context) error
	if s.locker != nil {
		rel, err := s.locker.Acquire(ctx, string(ch))
		if err != nil {
			free()
			if errors.Is(err, lock.ErrHeld) {
				return nil, ErrRunInFlight
			}
			return nil, fmt.Errorf("run lock: %w", err)
		}
		unlock = rel
	}

	return func() {
		if unlock != nil {
			uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := unlock(uctx); err != nil {
				s.log.Warn("run lock release failed", logx.String("channel", string(ch)), logx.Err(err))
			}
			cancel()
		}
		free()
	}, nil
}

// Drain waits for active runs and queued inbound replies to finish.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	if s.ownSup {
		return s.sup.Wait(ctx)
	}
	return nil
}

func (s *Service) publish(typ string, data any) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}
