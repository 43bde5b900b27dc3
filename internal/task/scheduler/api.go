package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"expirybot/internal/task/engine"
	logx "expirybot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// AddSchedule registers job under name, replacing any schedule with the same
// name. A previous trigger that is still queued or running makes the next one
// skip.
//
// Supported schedule formats:
//   - Cron: "0 8-18 * * *", "*/5 * * * *", "@hourly", "@every 30m"
//   - Interval duration: "30m", "2h30m"
//   - Interval HH:MM: "01:30" (1 hour 30 minutes)
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	return s.AddScheduleOpt(name, schedule, timeout, TaskOptions{Overlap: engine.OverlapSkipIfRunning}, job)
}

// AddScheduleOpt is AddSchedule with task options.
func (s *Service) AddScheduleOpt(name, schedule string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("schedule name required")
	}
	if job == nil {
		return errors.New("schedule job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	} else if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.defs = append(s.defs, scheduleDef{
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		opt:     opt,
		state:   &engine.RunState{},
	})
	if s.c == nil {
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	s.registerLocked(d)
	fields := []logx.Field{logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout)}
	if next := s.previewNextRunsLocked(d, 3); next != "" {
		fields = append(fields, logx.String("next", next))
	}
	s.log.Debug("schedule registered", fields...)
	return nil
}

// Remove unschedules name. It reports whether anything was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Has reports whether a schedule named name is registered.
func (s *Service) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.defs {
		if d.name == name {
			return true
		}
	}
	return false
}

func (s *Service) removeLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) registerLocked(d *scheduleDef) {
	name, timeout, run, opt, state := d.name, d.timeout, d.job, d.opt, d.state
	job := cron.FuncJob(func() {
		if s.engine == nil {
			return
		}
		_, err := s.engine.Enqueue(engine.Task{Name: name, Timeout: timeout, Run: run, Opt: opt, State: state})
		if err != nil {
			s.reportEnqueueError(name, err)
		}
	})

	if every, ok := everyOf(d.spec); ok {
		loc := s.loc
		if loc == nil {
			loc = time.Local
		}
		sched, spread := intervalWithSpread(every, time.Now().In(loc), name)
		d.spread = spread
		d.entryID = s.c.Schedule(sched, job)
		return
	}
	d.spread = 0
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", d.spec), logx.Err(err))
		return
	}
	d.entryID = id
}

func everyOf(spec string) (time.Duration, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(spec), "@every")
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(strings.TrimSpace(rest))
	return d, err == nil && d > 0
}

// previewNextRunsLocked lists upcoming run times for debug logs.
func (s *Service) previewNextRunsLocked(d *scheduleDef, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || s.c == nil || d.entryID == 0 {
		return ""
	}
	sched := s.c.Entry(d.entryID).Schedule
	if sched == nil {
		return ""
	}
	t := time.Now().In(s.loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}

func (s *Service) reportEnqueueError(name string, err error) {
	// Overlap skips are routine for long runs.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Err(err))
		return
	}

	s.enqMu.Lock()
	every, ok := s.enqWarn[name]
	if !ok {
		every = &rate.Sometimes{Interval: enqueueWarnThrottle}
		s.enqWarn[name] = every
	}
	s.enqMu.Unlock()

	every.Do(func() {
		s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
	})
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Started:  s.c != nil,
		Timezone: strings.TrimSpace(s.cfg.Timezone),
	}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	items := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout, Spread: d.spread, Running: d.state.Busy()}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		items = append(items, it)
	}
	eng := s.engine
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	snap.Schedules = items
	snap.History = []HistoryItem{}
	if eng != nil {
		es := eng.Snapshot()
		snap.Workers = es.Workers
		snap.InFlight = es.InFlight
		snap.QueueLen = es.QueueLen
		snap.QueueCap = es.QueueCap
		snap.Dropped = es.Dropped
		snap.RetryMax = es.RetryMax
		snap.CircuitOpen = es.CircuitOpen
		if es.History != nil {
			snap.History = es.History
		}
	}
	return snap
}
