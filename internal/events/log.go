package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"vigil/internal/platform/clock"
	"vigil/internal/platform/metrics"
	"vigil/pkg/notifier"
)

const (
	// DefaultCapacity bounds the in-memory ring buffer; the oldest entry is
	// evicted once the ceiling is reached.
	DefaultCapacity = 1000

	defaultBurstThreshold = 5
	defaultBurstWindow    = 5 * time.Minute
)

// Log is the append-only, capped security event log. It owns the event
// buffer exclusively; collaborators only append through Record or read
// through the query methods.
//
// Appends are safe under concurrent writers. Strict global ordering is not
// guaranteed, only that no write is lost and eviction is FIFO by insertion.
type Log struct {
	mu      sync.Mutex
	entries []SecurityEvent
	start   int
	count   int

	burstThreshold int
	burstWindow    time.Duration
	lastAlert      map[Category]time.Time

	clock    clock.Clock
	notifier notifier.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// outbox feeds the sink worker without blocking Record. The ring buffer
	// is the source of truth; a full outbox drops the sink copy only.
	outbox chan SecurityEvent
}

type Option func(*Log)

func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.entries = make([]SecurityEvent, n)
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(l *Log) { l.clock = c }
}

func WithNotifier(n notifier.Notifier) Option {
	return func(l *Log) { l.notifier = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Log) { l.metrics = m }
}

func WithBurstPolicy(threshold int, window time.Duration) Option {
	return func(l *Log) {
		l.burstThreshold = threshold
		l.burstWindow = window
	}
}

// NewLog constructs the event log. Sinks are attached by running a Worker
// over Outbox; without one, events stay in the ring buffer only.
func NewLog(opts ...Option) *Log {
	l := &Log{
		entries:        make([]SecurityEvent, DefaultCapacity),
		burstThreshold: defaultBurstThreshold,
		burstWindow:    defaultBurstWindow,
		lastAlert:      make(map[Category]time.Time),
		clock:          clock.Real{},
		notifier:       notifier.Noop{},
		logger:         slog.Default(),
		outbox:         make(chan SecurityEvent, 256),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends an event. O(1); evicts the oldest entry at capacity.
// After a failure it runs burst detection for the event's category.
func (l *Log) Record(ctx context.Context, category Category, action string, outcome Outcome, detail Detail) {
	event := SecurityEvent{
		ID:        uuid.New(),
		Category:  category,
		Action:    action,
		Outcome:   outcome,
		Detail:    detail,
		Timestamp: l.clock.Now(),
	}

	l.mu.Lock()
	l.append(event)
	var alert bool
	if outcome == OutcomeFailure {
		alert = l.burstExceededLocked(event)
	}
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.EventsRecorded.WithLabelValues(string(category), string(outcome)).Inc()
	}

	select {
	case l.outbox <- event:
	default:
		l.logger.Warn("event outbox full, sink copy dropped", "action", action)
	}

	if alert {
		l.raiseBurstAlert(ctx, event)
	}
}

// Outbox exposes the sink feed for the Worker.
func (l *Log) Outbox() <-chan SecurityEvent { return l.outbox }

// RecentFailures counts failures of the given category within the trailing
// window.
func (l *Log) RecentFailures(category Category, window time.Duration) int {
	cutoff := l.clock.Now().Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failuresSinceLocked(category, cutoff)
}

// GetRecent returns events from the trailing window in insertion order.
// Read-only; does not mutate log state.
func (l *Log) GetRecent(window time.Duration) []SecurityEvent {
	cutoff := l.clock.Now().Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	var out []SecurityEvent
	for i := 0; i < l.count; i++ {
		e := l.entries[(l.start+i)%len(l.entries)]
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *Log) append(event SecurityEvent) {
	if l.count == len(l.entries) {
		l.entries[l.start] = event
		l.start = (l.start + 1) % len(l.entries)
		return
	}
	l.entries[(l.start+l.count)%len(l.entries)] = event
	l.count++
}

// burstExceededLocked reports whether this failure crosses the burst
// threshold and the category is due for an alert. The last-alert timestamp
// debounces: one alert per burst, not one per failure.
func (l *Log) burstExceededLocked(event SecurityEvent) bool {
	cutoff := event.Timestamp.Add(-l.burstWindow)
	if l.failuresSinceLocked(event.Category, cutoff) < l.burstThreshold {
		return false
	}
	if last, ok := l.lastAlert[event.Category]; ok && last.After(cutoff) {
		return false
	}
	l.lastAlert[event.Category] = event.Timestamp
	return true
}

func (l *Log) failuresSinceLocked(category Category, cutoff time.Time) int {
	n := 0
	for i := 0; i < l.count; i++ {
		e := l.entries[(l.start+i)%len(l.entries)]
		if e.Category == category && e.Outcome == OutcomeFailure && !e.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n
}

func (l *Log) raiseBurstAlert(ctx context.Context, event SecurityEvent) {
	subject := fmt.Sprintf("failure burst: %s", event.Category)
	body := fmt.Sprintf("%d or more %s failures within %s (last action: %s)",
		l.burstThreshold, event.Category, l.burstWindow, event.Action)

	if l.metrics != nil {
		l.metrics.BurstAlerts.WithLabelValues(string(event.Category)).Inc()
	}

	if err := l.notifier.SendAlert(ctx, subject, body, notifier.SeverityCritical); err != nil {
		// Alert delivery is fire-and-forget; the failure becomes an event
		// itself and never propagates.
		l.logger.Error("burst alert delivery failed", "error", err)
		l.Record(ctx, CategoryNotify, ActionAlertFailed, OutcomeFailure, NotifyDetail{Subject: subject})
	}
}
