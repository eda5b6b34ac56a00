package credentials

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/events"
	"vigil/internal/platform/clock"
	"vigil/internal/platform/config"
	dErrors "vigil/pkg/domain-errors"
)

type recordedEvent struct {
	Category events.Category
	Action   string
	Outcome  events.Outcome
	Detail   events.Detail
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *fakeRecorder) Record(_ context.Context, category events.Category, action string, outcome events.Outcome, detail events.Detail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{category, action, outcome, detail})
}

func (r *fakeRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

// flakyBackend wraps MemoryBackend and can be switched to fail or hang.
type flakyBackend struct {
	*MemoryBackend
	mu   sync.Mutex
	fail bool
	hang bool
}

func (b *flakyBackend) Validate(ctx context.Context, material string) error {
	b.mu.Lock()
	fail, hang := b.fail, b.hang
	b.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errors.New("backend rejected credential")
	}
	return b.MemoryBackend.Validate(ctx, material)
}

func (b *flakyBackend) set(fail, hang bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail, b.hang = fail, hang
}

func testPolicy() config.RotationPolicy {
	return config.RotationPolicy{
		Interval:         90 * 24 * time.Hour,
		WarningThreshold: 7 * 24 * time.Hour,
	}
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *flakyBackend, *fakeRecorder, *clock.Manual) {
	t.Helper()
	backend := &flakyBackend{MemoryBackend: NewMemoryBackend("pub-material", "priv-material")}
	rec := &fakeRecorder{}
	clk := clock.NewManual(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	base := []Option{
		WithEventRecorder(rec),
		WithClock(clk),
		WithValidationTimeout(50 * time.Millisecond),
	}
	store := New(backend, "pub-material", "priv-material", testPolicy(), append(base, opts...)...)
	return store, backend, rec, clk
}

func TestClientReturnsCachedHandle(t *testing.T) {
	store, _, _, _ := newTestStore(t)

	client, err := store.Client(TierPublic)
	require.NoError(t, err)
	assert.Equal(t, TierPublic, client.Tier())
	assert.Equal(t, "pub-material", client.Material())

	// Same generation returns the same cached handle.
	again, err := store.Client(TierPublic)
	require.NoError(t, err)
	assert.Same(t, client, again)
}

func TestClientUnconfiguredTier(t *testing.T) {
	backend := NewMemoryBackend("pub-material")
	store := New(backend, "pub-material", "", testPolicy())

	_, err := store.Client(TierPrivileged)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeCredentialUnconfigured))

	_, err = store.Client(TierPublic)
	assert.NoError(t, err)
}

func TestValidateAllFlipsValidity(t *testing.T) {
	store, backend, rec, _ := newTestStore(t)
	ctx := context.Background()

	backend.set(true, false)
	store.ValidateAll(ctx)

	// Once invalid, every Client call fails until validation succeeds again.
	for i := 0; i < 3; i++ {
		_, err := store.Client(TierPublic)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeCredentialInvalid))
	}
	assert.Contains(t, rec.actions(), events.ActionCredentialRejected)

	backend.set(false, false)
	store.ValidateAll(ctx)

	_, err := store.Client(TierPublic)
	assert.NoError(t, err)

	meta, err := store.Metadata(TierPublic)
	require.NoError(t, err)
	assert.True(t, meta.Valid)
	assert.False(t, meta.LastValidatedAt.IsZero())
}

func TestValidateAllTimeoutCountsAsFailure(t *testing.T) {
	store, backend, _, _ := newTestStore(t)

	backend.set(false, true)
	store.ValidateAll(context.Background())

	_, err := store.Client(TierPublic)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeCredentialInvalid))
}

func TestExpiredCredentialRejected(t *testing.T) {
	store, _, _, clk := newTestStore(t)

	// Give the public credential an expiry just ahead of the clock.
	state := store.states[TierPublic].Load()
	next := *state
	next.meta.ExpiresAt = clk.Now().Add(time.Hour)
	store.states[TierPublic].Store(&next)

	_, err := store.Client(TierPublic)
	assert.NoError(t, err)

	clk.Advance(2 * time.Hour)
	_, err = store.Client(TierPublic)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeCredentialInvalid))
}

func TestCheckRotationNeedsWarnsInsideThreshold(t *testing.T) {
	store, _, rec, clk := newTestStore(t)

	clk.Advance(85 * 24 * time.Hour) // inside interval-warningThreshold
	store.CheckRotationNeeds(context.Background())

	assert.Contains(t, rec.actions(), events.ActionRotationWarning)
	assert.NotContains(t, rec.actions(), events.ActionRotationOverdue)
}

func TestCheckRotationNeedsOverdueWithoutAutoRotate(t *testing.T) {
	store, _, rec, clk := newTestStore(t)

	clk.Advance(91 * 24 * time.Hour)
	store.CheckRotationNeeds(context.Background())

	assert.Contains(t, rec.actions(), events.ActionRotationOverdue)
}

type fakeRotator struct {
	mu    sync.Mutex
	tiers []Tier
}

func (r *fakeRotator) RotateTier(_ context.Context, tier Tier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers = append(r.tiers, tier)
	return nil
}

func TestCheckRotationNeedsAutoRotates(t *testing.T) {
	backend := NewMemoryBackend("pub-material")
	rec := &fakeRecorder{}
	clk := clock.NewManual(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	policy := testPolicy()
	policy.AutoRotate = true
	store := New(backend, "pub-material", "", policy, WithEventRecorder(rec), WithClock(clk))

	rotator := &fakeRotator{}
	store.SetRotator(rotator)

	clk.Advance(91 * 24 * time.Hour)
	store.CheckRotationNeeds(context.Background())

	assert.Equal(t, []Tier{TierPublic}, rotator.tiers)
	assert.NotContains(t, rec.actions(), events.ActionRotationOverdue)
}

func TestInstallSwapsHandleAtomically(t *testing.T) {
	store, _, _, _ := newTestStore(t)

	before, err := store.Client(TierPublic)
	require.NoError(t, err)

	meta, err := store.Metadata(TierPublic)
	require.NoError(t, err)

	superseded := store.Install(TierPublic, "new-id", "new-material")
	assert.Equal(t, meta.MaterialID, superseded)

	after, err := store.Client(TierPublic)
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	assert.Equal(t, "new-material", after.Material())

	// Concurrent readers only ever see a fully formed handle.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c, err := store.Client(TierPublic)
				if err == nil {
					assert.NotEmpty(t, c.Material())
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		store.Install(TierPublic, "id", "material")
	}
	wg.Wait()
}
