// internal/notify/notify.go
package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Level is the escalation severity attached to an event.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "Low"
	case LevelMedium:
		return "Medium"
	case LevelHigh:
		return "High"
	case LevelCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// ParseLevel maps a configured severity name to a Level. Unknown names
// resolve to Low so a typo in config degrades rather than escalates.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "medium":
		return LevelMedium
	case "high":
		return LevelHigh
	case "critical":
		return LevelCritical
	default:
		return LevelLow
	}
}

// Event is one escalation or quota notification.
type Event struct {
	Level    Level     `json:"level"`
	Source   string    `json:"source"` // "failover", "replication"
	Provider string    `json:"provider,omitempty"`
	Message  string    `json:"message"`
	Channels []string  `json:"channels,omitempty"`
	Time     time.Time `json:"time"`
}

// Notifier delivers escalation events. Delivery is best effort; callers
// must not let a notification failure fail the operation that raised it.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
	Close() error
}

// LogNotifier writes events to the structured log. It is the fallback
// sink when no external channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("level", ev.Level.String()),
		zap.String("source", ev.Source),
		zap.String("provider", ev.Provider),
		zap.Strings("channels", ev.Channels),
	}
	switch ev.Level {
	case LevelCritical, LevelHigh:
		n.logger.Error(ev.Message, fields...)
	case LevelMedium:
		n.logger.Warn(ev.Message, fields...)
	default:
		n.logger.Info(ev.Message, fields...)
	}
	return nil
}

func (n *LogNotifier) Close() error { return nil }

// Multi fans one event out to several sinks and aggregates their errors.
type Multi struct {
	sinks []Notifier
}

// NewMulti combines notifiers. Nil entries are dropped.
func NewMulti(sinks ...Notifier) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
