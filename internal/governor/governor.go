// Package governor paces outbound messages so the gateway's abuse detection
// does not see a fixed cadence.
package governor

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Defaults.
const (
	DefaultMinDelay   = 3 * time.Second
	DefaultMaxDelay   = 7 * time.Second
	DefaultBatchSize  = 10
	DefaultBatchPause = 30 * time.Second
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config is the pacing policy.
type Config struct {
	MinDelay   time.Duration
	MaxDelay   time.Duration
	BatchSize  int
	BatchPause time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinDelay <= 0 {
		c.MinDelay = DefaultMinDelay
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchPause <= 0 {
		c.BatchPause = DefaultBatchPause
	}
	return c
}

// Governor hands out per-run pacers. The policy can be swapped on config reload;
// runs already in progress keep the policy they started with.
type Governor struct {
	mu    sync.RWMutex
	cfg   Config
	sleep SleepFunc
	seed  func() int64
}

type Option func(*Governor)

// WithSleep replaces the real sleep (tests).
func WithSleep(fn SleepFunc) Option { return func(g *Governor) { g.sleep = fn } }

// WithSeed fixes the random source seed for every run (tests).
func WithSeed(seed int64) Option {
	return func(g *Governor) { g.seed = func() int64 { return seed } }
}

func New(cfg Config, opts ...Option) *Governor {
	g := &Governor{
		cfg:   cfg.withDefaults(),
		sleep: Sleep,
		seed:  func() int64 { return time.Now().UnixNano() },
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Apply swaps the pacing policy.
func (g *Governor) Apply(cfg Config) {
	g.mu.Lock()
	g.cfg = cfg.withDefaults()
	g.mu.Unlock()
}

func (g *Governor) Config() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// NewRun starts a pacer with a zero counter.
func (g *Governor) NewRun() *Run {
	return &Run{
		cfg:   g.Config(),
		sleep: g.sleep,
		rng:   rand.New(rand.NewSource(g.seed())),
	}
}

// Run paces one dispatch run. It is not safe for concurrent use; a run
// sends sequentially.
type Run struct {
	cfg   Config
	sleep SleepFunc
	rng   *rand.Rand
	sent  int
}

// Next returns the delay that precedes the next send without sleeping.
func (r *Run) Next() time.Duration {
	if r.sent > 0 && r.sent%r.cfg.BatchSize == 0 {
		return r.cfg.BatchPause
	}
	span := r.cfg.MaxDelay - r.cfg.MinDelay
	if span <= 0 {
		return r.cfg.MinDelay
	}
	return r.cfg.MinDelay + time.Duration(r.rng.Int63n(int64(span)+1))
}

// Wait sleeps before a send and counts it. A cancelled wait does not count.
func (r *Run) Wait(ctx context.Context) error {
	if err := r.sleep(ctx, r.Next()); err != nil {
		return err
	}
	r.sent++
	return nil
}

// Sent reports how many sends this run has been paced for.
func (r *Run) Sent() int { return r.sent }

// Sleep is a context-aware time.Sleep.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
