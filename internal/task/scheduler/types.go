package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"expirybot/internal/task/engine"
	logx "expirybot/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "America/Cuiaba"
}

type TaskOptions = engine.TaskOptions

type HistoryItem = engine.HistoryItem

// Submitter is the part of engine.Service the scheduler needs.
type Submitter interface {
	Enqueue(t engine.Task) (string, error)
	Snapshot() engine.Snapshot
}

type scheduleDef struct {
	name    string
	spec    string // cron spec or "@every <d>"
	timeout time.Duration
	job     func(ctx context.Context) error
	opt     TaskOptions
	state   *engine.RunState

	entryID cron.EntryID
	spread  time.Duration
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	engine Submitter

	parser cron.Parser
	c      *cron.Cron
	active bool // between Start and Stop
	defs   []scheduleDef

	enqMu   sync.Mutex
	enqWarn map[string]*rate.Sometimes
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Spread  time.Duration `json:"spread,omitempty"`
	Running bool          `json:"running"`
	Next    time.Time     `json:"next,omitempty"`
	Prev    time.Time     `json:"prev,omitempty"`
}

// Snapshot is the payload of the scheduler status endpoint.
type Snapshot struct {
	Enabled  bool   `json:"enabled"`
	Started  bool   `json:"started"`
	Timezone string `json:"timezone"`

	Workers  int    `json:"workers"`
	InFlight int    `json:"in_flight"`
	QueueLen int    `json:"queue_len"`
	QueueCap int    `json:"queue_cap"`
	Dropped  uint64 `json:"dropped"`
	RetryMax int    `json:"retry_max"`

	CircuitOpen int `json:"circuit_open"`

	Schedules []ScheduleInfo `json:"schedules"`
	History   []HistoryItem  `json:"history"`
}
