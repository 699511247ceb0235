// Package notify delivers run summaries and alerts to operators.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Level is the severity of an alert.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Alert is one notification.
type Alert struct {
	Level   Level
	Title   string
	Message string
}

// Sink delivers alerts. Implementations must be safe to call once per run.
type Sink interface {
	Send(ctx context.Context, alert Alert) error
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink returns a sink backed by log.
func NewLogSink(log zerolog.Logger) *LogSink { return &LogSink{log: log} }

// Send logs the alert at a level matching its severity.
func (s *LogSink) Send(_ context.Context, alert Alert) error {
	event := s.log.Info()
	switch alert.Level {
	case LevelWarning:
		event = s.log.Warn()
	case LevelCritical:
		event = s.log.Error()
	}
	event.Str("severity", string(alert.Level)).Str("title", alert.Title).Msg(alert.Message)
	return nil
}

// Multi fans an alert out to every sink and joins their errors.
type Multi []Sink

// Send delivers to all sinks even when some fail.
func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
