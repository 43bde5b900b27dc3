package engine

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"expirybot/internal/eventbus"
	rtsup "expirybot/internal/runtime/supervisor"
	logx "expirybot/pkg/logx"
)

// Service is a bounded queue drained by a fixed worker pool.
type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	q       chan queuedTask
	sup     *rtsup.Supervisor
	running bool
	closing bool

	stateMu sync.Mutex
	states  map[string]*RunState

	circuits circuitStore

	histMu  sync.Mutex
	history []HistoryItem

	seq      atomic.Uint64
	inFlight atomic.Int64
	dropped  atomic.Uint64

	now func() time.Time
}

type queuedTask struct {
	t          Task
	enqueuedAt time.Time
	state      *RunState
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		log:    log,
		bus:    bus,
		cfg:    cfg,
		states: map[string]*RunState{},
		now:    time.Now,
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.q = make(chan queuedTask, s.cfg.QueueSize)
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log))
	s.running = true
	s.closing = false

	q := s.q
	for i := 0; i < s.cfg.Workers; i++ {
		name := "task.worker." + strconv.Itoa(i+1)
		s.sup.GoRestart(name, func(ctx context.Context) error {
			return s.worker(ctx, q)
		})
	}
	s.log.Info("task engine started",
		logx.Int("workers", s.cfg.Workers),
		logx.Int("queue", s.cfg.QueueSize),
		logx.Duration("default_timeout", s.cfg.DefaultTimeout),
	)
}

// Stop cancels running tasks and waits for workers until ctx expires.
// Queued tasks that never started are dropped.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	sup := s.sup
	s.mu.Unlock()

	err := sup.Stop(ctx)

	s.mu.Lock()
	q := s.q
	s.running = false
	s.sup = nil
	s.q = nil
	s.mu.Unlock()

	for {
		select {
		case qt := <-q:
			qt.state.release()
			s.dropped.Add(1)
			continue
		default:
		}
		break
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.log.Info("task engine stopped")
	return nil
}

// Enqueue queues t without blocking and returns its ID.
func (s *Service) Enqueue(t Task) (string, error) {
	return s.enqueue(nil, t)
}

// Submit is Enqueue that waits for queue space until ctx is done.
func (s *Service) Submit(ctx context.Context, t Task) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.enqueue(ctx, t)
}

func (s *Service) enqueue(ctx context.Context, t Task) (string, error) {
	if t.Run == nil {
		return "", errors.New("task: nil Run")
	}
	if t.Name == "" {
		t.Name = "task"
	}
	if t.ID == "" {
		t.ID = s.newTaskID()
	}

	s.mu.Lock()
	q, cfg := s.q, s.cfg
	ok := s.running && !s.closing
	s.mu.Unlock()
	if !ok {
		return "", ErrStopped
	}

	t.Opt = t.Opt.withDefaults(cfg)
	if open, until := s.circuits.isOpen(s.now(), t.Name, cfg, t.Opt); open {
		s.log.Debug("task skipped: circuit open", logx.String("task", t.Name), logx.Time("until", until))
		s.publishSkipped(t, ErrCircuitOpen)
		return "", ErrCircuitOpen
	}

	st := t.State
	if st == nil {
		st = s.stateFor(t.Name)
	}
	if t.Opt.Overlap == OverlapSkipIfRunning {
		if !st.tryAcquire() {
			s.publishSkipped(t, ErrOverlapSkip)
			return "", ErrOverlapSkip
		}
	} else {
		st = nil
	}

	qt := queuedTask{t: t, enqueuedAt: s.now(), state: st}
	if ctx == nil {
		select {
		case q <- qt:
			return t.ID, nil
		default:
			st.release()
			s.dropped.Add(1)
			s.log.Warn("task dropped: queue full", logx.String("task", t.Name), logx.Int("queue", cap(q)))
			return "", ErrQueueFull
		}
	}
	select {
	case q <- qt:
		return t.ID, nil
	case <-ctx.Done():
		st.release()
		return "", ctx.Err()
	}
}

// Busy reports whether a task with this name is queued or running.
func (s *Service) Busy(name string) bool {
	s.stateMu.Lock()
	st := s.states[name]
	s.stateMu.Unlock()
	return st.Busy()
}

// History returns the most recent runs, newest first.
func (s *Service) History() []HistoryItem {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	out := make([]HistoryItem, len(s.history))
	for i := range s.history {
		out[i] = s.history[len(s.history)-1-i]
	}
	return out
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, q, running := s.cfg, s.q, s.running
	s.mu.Unlock()

	snap := Snapshot{
		Running:        running,
		Workers:        cfg.Workers,
		QueueCap:       cfg.QueueSize,
		InFlight:       int(s.inFlight.Load()),
		Dropped:        s.dropped.Load(),
		DefaultTimeout: cfg.DefaultTimeout,
		RetryMax:       cfg.RetryMax,
		History:        s.History(),
	}
	if q != nil {
		snap.QueueLen = len(q)
	}
	snap.CircuitTotal, snap.CircuitOpen = s.circuits.snapshot(s.now())
	return snap
}

func (s *Service) stateFor(name string) *RunState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[name]
	if st == nil {
		st = &RunState{}
		s.states[name] = st
	}
	return st
}

func (s *Service) newTaskID() string {
	return "t" + strconv.FormatInt(s.now().Unix(), 36) + "-" + strconv.FormatUint(s.seq.Add(1), 36)
}

func (s *Service) appendHistory(h HistoryItem) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	s.history = append(s.history, h)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func (s *Service) publishSkipped(t Task, reason error) {
	s.publish(eventbus.TaskSkipped, TaskEvent{ID: t.ID, Name: t.Name, Started: s.now(), Error: reason.Error()})
}
