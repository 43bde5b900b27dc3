package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	alertSkipKey  = "alert_skip"
	alertQueueLen = 64
	alertTimeout  = time.Minute
	alertMaxLen   = 1500
	alertValueLen = 300
)

// alertSink is a zerolog.LevelWriter that forwards lines at or above
// minLevel to the operator phone. It never blocks the caller: lines over
// the rate limit or beyond the queue are dropped.
type alertSink struct {
	sender AlertSender
	queue  chan string

	mu       sync.Mutex
	phone    string
	minLevel zerolog.Level
	limiter  *rate.Limiter

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newAlertSink(sender AlertSender) *alertSink {
	return &alertSink{sender: sender, queue: make(chan string, alertQueueLen), minLevel: zerolog.WarnLevel}
}

func (a *alertSink) configure(cfg AlertConfig) {
	a.mu.Lock()
	a.phone = strings.TrimSpace(cfg.Phone)
	a.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	a.limiter = perMinuteLimiter(cfg.PerMinute)
	a.mu.Unlock()

	if cfg.Enabled && a.sender != nil {
		a.startOnce.Do(a.start)
	}
}

func (a *alertSink) start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()
	go a.run(ctx)
}

func (a *alertSink) stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (a *alertSink) run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-a.queue:
			a.mu.Lock()
			phone := a.phone
			a.mu.Unlock()
			if phone == "" {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, alertTimeout)
			// A failed alert is not logged: the line would come straight back here.
			_ = a.sender.SendAlert(sctx, phone, text)
			cancel()
		}
	}
}

func (a *alertSink) Write(p []byte) (int, error) { return a.WriteLevel(zerolog.NoLevel, p) }

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	ok := a.phone != "" && a.limiter != nil && level != zerolog.NoLevel && level >= a.minLevel
	lim := a.limiter
	a.mu.Unlock()

	if !ok || bytes.Contains(p, []byte(`"`+alertSkipKey+`":true`)) || !lim.Allow() {
		return len(p), nil
	}
	select {
	case a.queue <- formatAlert(p):
	default:
	}
	return len(p), nil
}

// formatAlert renders a JSON log line as a short WhatsApp message:
// a bold header with the level, the message, then sorted key=value lines.
func formatAlert(p []byte) string {
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &line); err != nil {
		return clip(strings.TrimSpace(string(p)), alertMaxLen)
	}

	var b strings.Builder
	b.WriteString("⚠️ *expirybot*")
	if lvl, _ := line[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, " [%s]", strings.ToUpper(lvl))
	}
	msg, _ := line[zerolog.MessageFieldName].(string)
	b.WriteString("\n")
	b.WriteString(msg)

	keys := make([]string, 0, len(line))
	for k := range line {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, "stack", alertSkipKey:
		default:
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(line[k]), alertValueLen))
	}
	return clip(b.String(), alertMaxLen)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
