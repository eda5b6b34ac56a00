// Package rotation runs the periodic sweep that ages credentials out,
// mints replacements, and revokes superseded material after a grace window.
package rotation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vigil/internal/credentials"
	"vigil/internal/events"
	"vigil/internal/platform/clock"
	"vigil/internal/platform/config"
	"vigil/internal/platform/metrics"
	dErrors "vigil/pkg/domain-errors"
)

// KeyRotator is the slice of the cipher service the scheduler needs.
type KeyRotator interface {
	RotateKey(ctx context.Context) string
}

// EventRecorder is the slice of the event log the scheduler needs.
type EventRecorder interface {
	Record(ctx context.Context, category events.Category, action string, outcome events.Outcome, detail events.Detail)
}

// pendingRevocation is superseded material waiting out its grace window.
// In-flight requests holding the old handle keep working until due.
type pendingRevocation struct {
	materialID string
	tier       credentials.Tier
	due        time.Time
}

// Scheduler drives credential and encryption-key rotation. It satisfies
// credentials.TierRotator so the store can trigger auto-rotation from its
// own age checks.
type Scheduler struct {
	store    *credentials.Store
	backend  credentials.Backend
	keys     KeyRotator
	policy   config.RotationPolicy
	recorder EventRecorder
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	pending []pendingRevocation
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func New(store *credentials.Store, backend credentials.Backend, keys KeyRotator, policy config.RotationPolicy, recorder EventRecorder, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		backend:  backend,
		keys:     keys,
		policy:   policy,
		recorder: recorder,
		clock:    clock.Real{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.policy.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	s.logger.Info("rotation scheduler started", "sweep_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass: age checks (which may call back into RotateTier
// when auto-rotation is on) followed by any revocations whose grace window
// has elapsed.
func (s *Scheduler) Sweep(ctx context.Context) {
	s.store.CheckRotationNeeds(ctx)
	s.processRevocations(ctx)
}

// RotateTier mints a replacement credential and swaps it in. Rotation is
// forward-only: once the new material is installed there is no rollback,
// and the superseded material is queued for revocation after the grace
// window rather than killed immediately.
func (s *Scheduler) RotateTier(ctx context.Context, tier credentials.Tier) error {
	materialID, material, err := s.backend.CreateCredential(ctx, tier)
	if err != nil {
		// The old credential stays current; the next sweep retries.
		s.recorder.Record(ctx, events.CategoryRotation, events.ActionCredentialRotated, events.OutcomeFailure,
			events.RotationDetail{Target: string(tier), Reason: "credential creation failed"})
		s.countRotation(string(tier), "failure")
		return dErrors.Wrap(err, dErrors.CodeRotationFailed, "failed to create replacement credential")
	}

	supersededID := s.store.Install(tier, materialID, material)
	if supersededID != "" {
		s.queueRevocation(tier, supersededID)
	}

	s.recorder.Record(ctx, events.CategoryRotation, events.ActionCredentialRotated, events.OutcomeSuccess,
		events.RotationDetail{Target: string(tier), SupersededID: supersededID})
	s.countRotation(string(tier), "success")
	s.logger.Info("credential rotated", "tier", tier, "superseded_id", supersededID)
	return nil
}

// RotateKey advances the encryption key. Previously written payloads stay
// readable; only new encryptions pick up the new key.
func (s *Scheduler) RotateKey(ctx context.Context) string {
	keyID := s.keys.RotateKey(ctx)
	s.countRotation("cipher_key", "success")
	s.logger.Info("encryption key rotated", "key_id", keyID)
	return keyID
}

func (s *Scheduler) queueRevocation(tier credentials.Tier, materialID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, pendingRevocation{
		materialID: materialID,
		tier:       tier,
		due:        s.clock.Now().Add(s.policy.RevocationGrace),
	})
}

// PendingRevocations reports how much superseded material is still inside
// its grace window.
func (s *Scheduler) PendingRevocations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) processRevocations(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	var due, rest []pendingRevocation
	for _, p := range s.pending {
		if !p.due.After(now) {
			due = append(due, p)
		} else {
			rest = append(rest, p)
		}
	}
	s.pending = rest
	s.mu.Unlock()

	for _, p := range due {
		if err := s.backend.RevokeCredential(ctx, p.materialID); err != nil {
			// Revocation is best-effort; the material is already
			// superseded and unused by this process.
			s.logger.Warn("revocation failed", "material_id", p.materialID, "tier", p.tier, "error", err)
			s.recorder.Record(ctx, events.CategoryRotation, events.ActionCredentialRevoked, events.OutcomeFailure,
				events.RotationDetail{Target: string(p.tier), SupersededID: p.materialID, Reason: "backend revocation failed"})
			continue
		}
		s.recorder.Record(ctx, events.CategoryRotation, events.ActionCredentialRevoked, events.OutcomeSuccess,
			events.RotationDetail{Target: string(p.tier), SupersededID: p.materialID})
		s.logger.Info("superseded credential revoked", "material_id", p.materialID, "tier", p.tier)
	}
}

func (s *Scheduler) countRotation(target, outcome string) {
	if s.metrics != nil {
		s.metrics.RotationsTotal.WithLabelValues(target, outcome).Inc()
	}
}
