package notifier

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Notification is one message for the user.
type Notification struct {
	Title string
	Body  string
	// DedupeKey lets sinks that support it replace an earlier notification
	// with the same key instead of stacking.
	DedupeKey int
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Named is implemented by sinks that can report a name for logs.
type Named interface {
	Name() string
}

// Multi fans a notification out to every sink.
type Multi struct {
	sinks []Notifier
}

func NewMulti(sinks ...Notifier) *Multi {
	return &Multi{sinks: sinks}
}

// Notify tries every sink and returns the combined errors of those that failed.
func (m *Multi) Notify(ctx context.Context, n Notification) error {
	var errs error
	for i, s := range m.sinks {
		if err := s.Notify(ctx, n); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", sinkName(s, i), err))
		}
	}
	return errs
}

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

func sinkName(s Notifier, i int) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("sink %d", i)
}

// Log writes notifications to the logger.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Notify(_ context.Context, n Notification) error {
	l.log.Info("notification",
		zap.String("title", n.Title),
		zap.String("body", n.Body),
		zap.Int("dedupe_key", n.DedupeKey))
	return nil
}
