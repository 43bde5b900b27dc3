package dispatch

import "time"

// Channel is a dispatch audience.
type Channel string

const (
	ChannelVendor Channel = "vendor"
	ChannelClient Channel = "client"
)

// Trigger names what started a run.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerSchedule Trigger = "schedule"
	TriggerCLI      Trigger = "cli"
)

// Options control one run.
type Options struct {
	// Force bypasses the once-a-day check for every recipient.
	Force   bool
	Trigger Trigger
}

// ErrorDetail is one sampled failure in a Summary.
type ErrorDetail struct {
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
	Part  int    `json:"part,omitempty"`
	Error string `json:"error"`
}

// Summary is the outcome of one run. Counts of sent and failed are per
// message part; skip counts are per recipient.
type Summary struct {
	Channel    Channel   `json:"channel"`
	Trigger    Trigger   `json:"trigger"`
	RunID      string    `json:"run_id"`
	Force      bool      `json:"force"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Sent            int `json:"sent"`
	Failed          int `json:"failed"`
	Skipped         int `json:"skipped"`
	SkippedDedup    int `json:"skipped_dedup"`
	SkippedNoPhone  int `json:"skipped_no_phone"`
	SkippedEmpty    int `json:"skipped_empty"`
	Aborted         int `json:"aborted"`
	TotalRecipients int `json:"total_recipients"`

	Errors      []ErrorDetail `json:"errors"`
	ErrorsTotal int           `json:"errors_total"`
	Cancelled   bool          `json:"cancelled,omitempty"`
	Message     string        `json:"message,omitempty"`

	maxErrors int
}

func (s *Summary) addError(d ErrorDetail) {
	s.ErrorsTotal++
	if len(s.Errors) < s.maxErrors {
		s.Errors = append(s.Errors, d)
	}
}

func (s *Summary) finish(at time.Time) {
	s.FinishedAt = at
	s.Skipped = s.SkippedDedup + s.SkippedNoPhone + s.SkippedEmpty
	if s.Errors == nil {
		s.Errors = []ErrorDetail{}
	}
}

// Duration is the wall time of the run.
func (s Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// DeliveryEvent is the payload of dispatch.sent, dispatch.failed,
// dispatch.skipped and dispatch.aborted events.
type DeliveryEvent struct {
	Channel  Channel
	RunID    string
	Phone    string
	RecordID string
	Part     int
	Parts    int
	Attempts int
	Reason   string
	Err      string
	Latency  time.Duration
}

// SendResult is the outcome of a single ad-hoc send.
type SendResult struct {
	Status   string `json:"status"`
	Phone    string `json:"phone"`
	RecordID string `json:"record_id,omitempty"`
	Error    string `json:"error,omitempty"`
}
