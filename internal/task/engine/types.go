package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// Config sizes the worker pool and sets run defaults. Scheduling lives in
// the scheduler package; this package only executes.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout is used when Task.Timeout is 0. 0 means no timeout.
	DefaultTimeout time.Duration

	HistorySize int
	RetryMax    int

	// CircuitTripFailures consecutive failures open a task's circuit.
	// 0 means 5; negative disables the breaker.
	CircuitTripFailures int
	CircuitBaseDelay    time.Duration
	CircuitMaxDelay     time.Duration
	CircuitResetAfter   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.CircuitTripFailures == 0 {
		c.CircuitTripFailures = 5
	}
	if c.CircuitBaseDelay <= 0 {
		c.CircuitBaseDelay = 30 * time.Second
	}
	if c.CircuitMaxDelay <= 0 {
		c.CircuitMaxDelay = 30 * time.Minute
	}
	if c.CircuitResetAfter <= 0 {
		c.CircuitResetAfter = time.Hour
	}
	return c
}

type OverlapPolicy int

const (
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

type TaskOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // randomization factor, 0.2 = ±20%

	// CircuitTripFailures overrides Config.CircuitTripFailures; negative
	// disables the breaker for this task.
	CircuitTripFailures int
}

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	if o.RetryMax <= 0 {
		o.RetryMax = cfg.RetryMax
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 5 * time.Second
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = time.Minute
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	return o
}

// RunState is the per-name overlap guard. It is held from enqueue until the
// run returns, so a queued task already counts as busy. A nil RunState never
// blocks.
type RunState struct {
	busy atomic.Bool
}

func (s *RunState) tryAcquire() bool { return s == nil || s.busy.CompareAndSwap(false, true) }

func (s *RunState) release() {
	if s != nil {
		s.busy.Store(false)
	}
}

func (s *RunState) Busy() bool { return s != nil && s.busy.Load() }

// TaskEvent describes one finished, failed or skipped task. It is published
// on the bus and kept in the engine history.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

type HistoryItem = TaskEvent

// Task is a unit of work executed by the engine. State, when nil, is looked
// up by Name.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
	State   *RunState
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running  bool `json:"running"`
	Workers  int  `json:"workers"`
	QueueLen int  `json:"queue_len"`
	QueueCap int  `json:"queue_cap"`
	InFlight int  `json:"in_flight"`

	Dropped        uint64        `json:"dropped"`
	DefaultTimeout time.Duration `json:"default_timeout"`
	RetryMax       int           `json:"retry_max"`

	CircuitTotal int `json:"circuit_total"`
	CircuitOpen  int `json:"circuit_open"`

	History []HistoryItem `json:"history"`
}
