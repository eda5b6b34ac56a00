package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []SecurityEvent
	err    error
}

func (s *captureSink) Write(_ context.Context, event SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestWorkerFansOutToAllSinks(t *testing.T) {
	log, _, _ := newTestLog()
	a, b := &captureSink{}, &captureSink{}
	worker := NewWorker(log.Outbox(), slog.Default(), a, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	log.Record(ctx, CategoryCipher, ActionDecryptFailed, OutcomeFailure, CipherDetail{KeyID: "k1"})
	log.Record(ctx, CategoryCipher, ActionKeyRotated, OutcomeSuccess, CipherDetail{KeyID: "k2"})

	require.Eventually(t, func() bool { return a.len() == 2 && b.len() == 2 },
		time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, ActionDecryptFailed, a.events[0].Action)
	assert.Equal(t, map[string]string{"key_id": "k1"}, a.events[0].Detail.Fields())
}

func TestWorkerSurvivesSinkFailure(t *testing.T) {
	log, _, _ := newTestLog()
	broken := &captureSink{err: fmt.Errorf("stream down")}
	healthy := &captureSink{}
	worker := NewWorker(log.Outbox(), slog.Default(), broken, healthy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	log.Record(ctx, CategoryGeo, ActionGeoDecision, OutcomeSuccess, nil)

	require.Eventually(t, func() bool { return healthy.len() == 1 },
		time.Second, 5*time.Millisecond)
}
