package engine

import (
	"sync"
	"time"
)

// circuitState tracks consecutive failures of one task name. Once failures
// reach the trip count the circuit opens for an exponentially growing
// cooldown; a success closes it.
type circuitState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

type circuitStore struct {
	mu sync.Mutex
	m  map[string]*circuitState
}

// locked returns the state for key; callers hold mu.
func (s *circuitStore) locked(key string) *circuitState {
	if s.m == nil {
		s.m = make(map[string]*circuitState)
	}
	st := s.m[key]
	if st == nil {
		st = &circuitState{}
		s.m[key] = st
	}
	return st
}

func tripCount(cfg Config, opt TaskOptions) int {
	if cfg.CircuitTripFailures < 0 || opt.CircuitTripFailures < 0 {
		return 0
	}
	if opt.CircuitTripFailures > 0 {
		return opt.CircuitTripFailures
	}
	return cfg.CircuitTripFailures
}

func (st *circuitState) expire(now time.Time, resetAfter time.Duration) {
	if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > resetAfter {
		st.fails = 0
		st.openUntil = time.Time{}
	}
}

func (s *circuitStore) isOpen(now time.Time, key string, cfg Config, opt TaskOptions) (bool, time.Time) {
	if tripCount(cfg, opt) == 0 {
		return false, time.Time{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.locked(key)
	st.expire(now, cfg.CircuitResetAfter)
	if now.Before(st.openUntil) {
		return true, st.openUntil
	}
	return false, time.Time{}
}

func (s *circuitStore) record(now time.Time, key string, cfg Config, opt TaskOptions, err error) {
	trip := tripCount(cfg, opt)
	if trip == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.locked(key)
	st.expire(now, cfg.CircuitResetAfter)

	if err == nil {
		*st = circuitState{}
		return
	}
	st.fails++
	st.lastFailure = now
	if st.fails < trip {
		return
	}
	d := cfg.CircuitBaseDelay
	for i := 0; i < st.fails-trip && d < cfg.CircuitMaxDelay; i++ {
		d *= 2
	}
	st.openUntil = now.Add(min(d, cfg.CircuitMaxDelay))
}

func (s *circuitStore) snapshot(now time.Time) (total, open int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total = len(s.m)
	for _, st := range s.m {
		if now.Before(st.openUntil) {
			open++
		}
	}
	return total, open
}
