// Package credentials gates all access to the two backend credential tiers
// behind validity checks and caches one client handle per tier for the
// process lifetime.
package credentials

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"vigil/internal/events"
	"vigil/internal/platform/clock"
	"vigil/internal/platform/config"
	"vigil/internal/platform/metrics"
	dErrors "vigil/pkg/domain-errors"
)

// EventRecorder is the slice of the event log this store needs.
type EventRecorder interface {
	Record(ctx context.Context, category events.Category, action string, outcome events.Outcome, detail events.Detail)
}

// TierRotator triggers a credential rotation. Implemented by the rotation
// scheduler; injected after construction to keep the dependency one-way.
type TierRotator interface {
	RotateTier(ctx context.Context, tier Tier) error
}

// tierState pairs a credential's metadata with its cached handle. The whole
// pair is swapped atomically so no reader ever observes a half-updated
// handle.
type tierState struct {
	meta   Metadata
	client *Client
}

// Store owns CredentialMetadata exclusively. Only this package and the
// rotation scheduler (through Install) mutate it; everything else reads.
type Store struct {
	backend Backend
	states  map[Tier]*atomic.Pointer[tierState]
	// writeMu serializes writers (validation and rotation); readers go
	// through the atomic pointers and never block.
	writeMu sync.Mutex

	policy            config.RotationPolicy
	validationTimeout time.Duration

	rotator  atomic.Pointer[TierRotator]
	recorder EventRecorder
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func WithEventRecorder(r EventRecorder) Option {
	return func(s *Store) { s.recorder = r }
}

func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func WithValidationTimeout(d time.Duration) Option {
	return func(s *Store) { s.validationTimeout = d }
}

// New builds the store from startup configuration. An empty material leaves
// that tier unconfigured; the privileged tier may legitimately be absent.
func New(backend Backend, publicMaterial, privilegedMaterial string, policy config.RotationPolicy, opts ...Option) *Store {
	s := &Store{
		backend:           backend,
		states:            make(map[Tier]*atomic.Pointer[tierState]),
		policy:            policy,
		validationTimeout: 10 * time.Second,
		clock:             clock.Real{},
		logger:            slog.Default(),
	}
	for _, tier := range Tiers() {
		s.states[tier] = &atomic.Pointer[tierState]{}
	}
	for _, opt := range opts {
		opt(s)
	}

	now := s.clock.Now()
	if publicMaterial != "" {
		s.install(TierPublic, uuid.NewString(), publicMaterial, now)
	}
	if privilegedMaterial != "" {
		s.install(TierPrivileged, uuid.NewString(), privilegedMaterial, now)
	}
	return s
}

// SetRotator wires the rotation scheduler in after both sides exist.
func (s *Store) SetRotator(r TierRotator) {
	s.rotator.Store(&r)
}

// Client returns the cached handle for a tier. Validity is re-checked on
// every call; once a credential is invalidated no handle is handed out until
// the next successful validation.
func (s *Store) Client(tier Tier) (*Client, error) {
	state := s.states[tier].Load()
	if state == nil {
		return nil, dErrors.Newf(dErrors.CodeCredentialUnconfigured, "no %s credential configured", tier)
	}
	if !state.meta.Valid || state.meta.Expired(s.clock.Now()) {
		return nil, dErrors.Newf(dErrors.CodeCredentialInvalid, "%s credential is not valid", tier)
	}
	return state.client, nil
}

// Metadata returns a copy of the tier's current metadata.
func (s *Store) Metadata(tier Tier) (Metadata, error) {
	state := s.states[tier].Load()
	if state == nil {
		return Metadata{}, dErrors.Newf(dErrors.CodeCredentialUnconfigured, "no %s credential configured", tier)
	}
	return state.meta, nil
}

// ValidateAll round-trips each configured tier against the backend. Each
// tier gets its own bounded timeout so one unreachable backend cannot stall
// the sweep; a timeout counts as a failed validation.
func (s *Store) ValidateAll(ctx context.Context) {
	for _, tier := range Tiers() {
		state := s.states[tier].Load()
		if state == nil {
			continue
		}
		s.validateTier(ctx, tier, state)
	}
}

func (s *Store) validateTier(ctx context.Context, tier Tier, state *tierState) {
	vctx, cancel := context.WithTimeout(ctx, s.validationTimeout)
	err := s.backend.Validate(vctx, state.meta.Material)
	cancel()

	s.writeMu.Lock()
	current := s.states[tier].Load()
	if current == nil || current.meta.MaterialID != state.meta.MaterialID {
		// Rotated while we were validating; the result no longer applies.
		s.writeMu.Unlock()
		return
	}
	next := *current
	now := s.clock.Now()
	if err != nil {
		next.meta.Valid = false
		s.states[tier].Store(&next)
		s.writeMu.Unlock()

		s.record(ctx, events.ActionCredentialRejected, events.OutcomeFailure,
			events.CredentialDetail{Tier: string(tier), Reason: err.Error()})
		s.countCheck(tier, "failure")
		s.logger.Warn("credential validation failed", "tier", tier, "error", err)
		return
	}

	next.meta.Valid = true
	next.meta.LastValidatedAt = now
	s.states[tier].Store(&next)
	s.writeMu.Unlock()

	s.record(ctx, events.ActionCredentialValidated, events.OutcomeSuccess,
		events.CredentialDetail{Tier: string(tier)})
	s.countCheck(tier, "success")
}

// CheckRotationNeeds inspects credential age against the rotation policy.
// Inside the warning threshold it emits a warning; past the full interval it
// either triggers rotation (autoRotate) or emits an overdue event requiring
// manual action.
func (s *Store) CheckRotationNeeds(ctx context.Context) {
	for _, tier := range Tiers() {
		state := s.states[tier].Load()
		if state == nil {
			continue
		}

		age := state.meta.Age(s.clock.Now())
		switch {
		case age >= s.policy.Interval:
			if s.policy.AutoRotate {
				if rotator := s.rotator.Load(); rotator != nil {
					if err := (*rotator).RotateTier(ctx, tier); err != nil {
						s.logger.Error("auto-rotation failed", "tier", tier, "error", err)
					}
					continue
				}
			}
			s.record(ctx, events.ActionRotationOverdue, events.OutcomeFailure,
				events.RotationDetail{Target: string(tier), Reason: "rotation interval exceeded, manual rotation required"})
		case age >= s.policy.Interval-s.policy.WarningThreshold:
			s.record(ctx, events.ActionRotationWarning, events.OutcomeSuccess,
				events.RotationDetail{Target: string(tier), Reason: "rotation due soon"})
		}
	}
}

// Install replaces a tier's credential with freshly minted material. The
// metadata and handle swap in one atomic store; the superseded material id
// is returned for grace-delayed revocation. Only the rotation scheduler
// calls this.
func (s *Store) Install(tier Tier, materialID, material string) (supersededID string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if prev := s.states[tier].Load(); prev != nil {
		supersededID = prev.meta.MaterialID
	}
	s.install(tier, materialID, material, s.clock.Now())
	return supersededID
}

func (s *Store) install(tier Tier, materialID, material string, now time.Time) {
	s.states[tier].Store(&tierState{
		meta: Metadata{
			Tier:          tier,
			MaterialID:    materialID,
			Material:      material,
			IssuedAt:      now,
			LastRotatedAt: now,
			Valid:         true,
		},
		client: &Client{tier: tier, material: material, backend: s.backend},
	})
}

// RunValidationLoop revalidates on a fixed interval until the context ends.
// Started only by the production supervisor; tests and single-shot scripts
// call ValidateAll directly.
func (s *Store) RunValidationLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.ValidateAll(ctx)
		}
	}
}

func (s *Store) record(ctx context.Context, action string, outcome events.Outcome, detail events.Detail) {
	if s.recorder == nil {
		return
	}
	category := events.CategoryCredential
	if action == events.ActionRotationWarning || action == events.ActionRotationOverdue {
		category = events.CategoryRotation
	}
	s.recorder.Record(ctx, category, action, outcome, detail)
}

func (s *Store) countCheck(tier Tier, outcome string) {
	if s.metrics != nil {
		s.metrics.CredentialChecks.WithLabelValues(string(tier), outcome).Inc()
	}
}
