package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Service owns the sinks. Apply rebuilds them and swaps the root logger
// atomically so in-flight loggers never see a half-built writer.
type Service struct {
	mu   sync.Mutex
	file *os.File
	root atomic.Pointer[zerolog.Logger]

	alerts *alertSink
}

// New builds the service from cfg. sender may be nil when alerts are off.
func New(cfg Config, sender AlertSender) (*Service, Logger) {
	s := &Service{alerts: newAlertSink(sender)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter())
	}

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			// No logger to report through yet.
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}

	s.alerts.configure(cfg.Alert)
	if cfg.Alert.Enabled {
		sinks = append(sinks, s.alerts)
	}

	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter())
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close stops the alert worker and closes the log file. Loggers keep
// working against the console afterwards.
func (s *Service) Close() error {
	s.alerts.stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	zl := zerolog.New(consoleWriter()).Level(s.current().GetLevel()).With().Timestamp().Logger()
	s.root.Store(&zl)
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

func perMinuteLimiter(n int) *rate.Limiter {
	if n < 1 {
		n = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
}
