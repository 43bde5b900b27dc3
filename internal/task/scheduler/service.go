package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	logx "expirybot/pkg/logx"
)

func New(cfg Config, eng Submitter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		engine:  eng,
		parser:  cronParser,
		enqWarn: map[string]*rate.Sometimes{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. Toggling Enabled starts or halts triggering and a
// timezone change re-registers every schedule on a fresh cron instance.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	switch {
	case !s.active:
	case !cfg.Enabled && s.c != nil:
		s.haltLocked()
		s.log.Info("scheduler disabled")
	case cfg.Enabled && s.c == nil:
		s.startLocked()
	case s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone):
		s.restartLocked()
	}
}

// Start begins triggering registered schedules. Definitions added before Start
// are kept and registered here.
func (s *Service) Start(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	s.startLocked()
}

func (s *Service) startLocked() {
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		s.registerLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering. Jobs already handed to the engine are not affected.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.active = false
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) haltLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
}

func (s *Service) restartLocked() {
	s.haltLocked()
	s.startLocked()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
