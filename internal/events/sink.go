package events

import (
	"context"
	"log/slog"
)

// Sink receives a copy of every recorded event. Sink failures never fail or
// block Record; the ring buffer remains the source of truth.
type Sink interface {
	Write(ctx context.Context, event SecurityEvent) error
}

// ConsoleSink renders events to structured logs. Development default.
type ConsoleSink struct {
	logger *slog.Logger
}

func NewConsoleSink(logger *slog.Logger) *ConsoleSink {
	return &ConsoleSink{logger: logger}
}

func (s *ConsoleSink) Write(ctx context.Context, event SecurityEvent) error {
	attrs := []any{
		"category", string(event.Category),
		"action", event.Action,
		"outcome", string(event.Outcome),
	}
	if event.Detail != nil {
		for k, v := range event.Detail.Fields() {
			attrs = append(attrs, k, v)
		}
	}

	level := slog.LevelInfo
	if event.Outcome == OutcomeFailure {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "security event", attrs...)
	return nil
}

// Worker drains the log outbox into sinks. It keeps sink I/O off the Record
// path and is owned by the process supervisor.
type Worker struct {
	inbox  <-chan SecurityEvent
	sinks  []Sink
	logger *slog.Logger
}

func NewWorker(inbox <-chan SecurityEvent, logger *slog.Logger, sinks ...Sink) *Worker {
	return &Worker{inbox: inbox, sinks: sinks, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			for _, sink := range w.sinks {
				if err := sink.Write(ctx, event); err != nil {
					w.logger.Error("event sink write failed",
						"action", event.Action, "error", err)
				}
			}
		}
	}
}
