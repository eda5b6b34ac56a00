package cipher

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/events"
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

func newTestService(t *testing.T, opts ...Option) (*Service, *fakeRecorder) {
	t.Helper()
	rec := &fakeRecorder{}
	svc, err := New("test-base-secret", append([]Option{WithEventRecorder(rec)}, opts...)...)
	require.NoError(t, err)
	return svc, rec
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, plaintext := range []string{"", "a", "hello world", string(make([]byte, 4096))} {
		payload, err := svc.Encrypt(ctx, []byte(plaintext))
		require.NoError(t, err)

		got, err := svc.Decrypt(ctx, payload)
		require.NoError(t, err)
		assert.Equal(t, plaintext, string(got))
	}
}

func TestEncryptUsesFreshNonces(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Encrypt(ctx, []byte("same plaintext"))
	require.NoError(t, err)
	b, err := svc.Encrypt(ctx, []byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestDecryptRejectsTampering(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()

	payload, err := svc.Encrypt(ctx, []byte("sensitive"))
	require.NoError(t, err)

	// A single bit flip anywhere in the ciphertext (which includes the GCM
	// tag) must fail with the uniform decryption error.
	for _, pos := range []int{0, len(payload.Ciphertext) / 2, len(payload.Ciphertext) - 1} {
		tampered := &EncryptedPayload{
			KeyID:      payload.KeyID,
			ContextTag: payload.ContextTag,
			Nonce:      payload.Nonce,
			Ciphertext: append([]byte(nil), payload.Ciphertext...),
		}
		tampered.Ciphertext[pos] ^= 0x01

		_, err := svc.Decrypt(ctx, tampered)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeDecryptionFailed), "flip at %d", pos)
	}

	assert.Contains(t, rec.actions(), events.ActionDecryptFailed)
}

func TestDecryptWrongKeyIsIndistinguishable(t *testing.T) {
	svcA, _ := newTestService(t)
	rec := &fakeRecorder{}
	svcB, err := New("different-secret", WithEventRecorder(rec))
	require.NoError(t, err)
	ctx := context.Background()

	payload, err := svcA.Encrypt(ctx, []byte("secret"))
	require.NoError(t, err)

	_, errWrongKey := svcB.Decrypt(ctx, payload)
	assert.True(t, dErrors.HasCode(errWrongKey, dErrors.CodeDecryptionFailed))

	tampered := *payload
	tampered.Ciphertext = append([]byte(nil), payload.Ciphertext...)
	tampered.Ciphertext[0] ^= 0x01
	_, errTampered := svcA.Decrypt(ctx, &tampered)

	// No oracle: both failures read identically.
	assert.Equal(t, errTampered.Error(), errWrongKey.Error())
}

func TestKeyRotationKeepsHistoricalPayloadsReadable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.Equal(t, "k1", svc.CurrentKeyID())
	old, err := svc.Encrypt(ctx, []byte("issued under k1"))
	require.NoError(t, err)

	newID := svc.RotateKey(ctx)
	assert.Equal(t, "k2", newID)

	// Payloads under k1 still decrypt after rotation.
	got, err := svc.Decrypt(ctx, old)
	require.NoError(t, err)
	assert.Equal(t, "issued under k1", string(got))

	// New encryptions use the current id.
	fresh, err := svc.Encrypt(ctx, []byte("issued under k2"))
	require.NoError(t, err)
	assert.Equal(t, "k2", fresh.KeyID)
}

func TestEncryptPinned(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	svc.RotateKey(ctx)
	payload, err := svc.EncryptPinned(ctx, "k1", []byte("pinned"))
	require.NoError(t, err)
	assert.Equal(t, "k1", payload.KeyID)

	got, err := svc.Decrypt(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, "pinned", string(got))
}

func TestFieldEncryptionBindsContext(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()

	token, err := svc.EncryptField(ctx, "phone_number", "user-42", []byte("+15551234567"))
	require.NoError(t, err)

	got, err := svc.DecryptField(ctx, "phone_number", "user-42", token)
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", string(got))

	// Same token replayed into a different field or subject is rejected
	// even though the key is correct.
	cases := []struct{ field, subject string }{
		{"email", "user-42"},
		{"phone_number", "user-43"},
		{"email", "user-43"},
	}
	for _, tc := range cases {
		_, err := svc.DecryptField(ctx, tc.field, tc.subject, token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidContext), "%s/%s", tc.field, tc.subject)
	}

	assert.Contains(t, rec.actions(), events.ActionContextMismatch)
}

func TestFieldTokenSurvivesRotation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, err := svc.EncryptField(ctx, "totp_secret", "user-1", []byte("JBSWY3DP"))
	require.NoError(t, err)

	svc.RotateKey(ctx)

	got, err := svc.DecryptField(ctx, "totp_secret", "user-1", token)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DP", string(got))
}

func TestDecryptFieldRejectsMalformedToken(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.DecryptField(context.Background(), "f", "s", "not-a-token")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDecryptionFailed))
}

func TestHashAndVerify(t *testing.T) {
	svc, _ := newTestService(t)

	hashed, err := svc.Hash("api-key-value", nil)
	require.NoError(t, err)

	assert.True(t, svc.VerifyHash("api-key-value", hashed))
	assert.False(t, svc.VerifyHash("wrong-value", hashed))
	assert.False(t, svc.VerifyHash("api-key-value", "garbage"))

	// Fresh salt per call: same value, different hashes.
	other, err := svc.Hash("api-key-value", nil)
	require.NoError(t, err)
	assert.NotEqual(t, hashed, other)
}

func TestSignAndVerify(t *testing.T) {
	svc, _ := newTestService(t)

	sig := svc.Sign([]byte("https://example.com/download?id=9"))
	assert.True(t, svc.VerifySign([]byte("https://example.com/download?id=9"), sig))
	assert.False(t, svc.VerifySign([]byte("https://example.com/download?id=10"), sig))

	sig[0] ^= 0x01
	assert.False(t, svc.VerifySign([]byte("https://example.com/download?id=9"), sig))
}

func TestPasswordHashing(t *testing.T) {
	svc, _ := newTestService(t)

	encoded, err := svc.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.Contains(t, encoded, "$argon2id$")

	assert.True(t, svc.VerifyPassword("correct horse battery staple", encoded))
	assert.False(t, svc.VerifyPassword("tr0ub4dor&3", encoded))
	assert.False(t, svc.VerifyPassword("correct horse battery staple", "$argon2id$bogus"))

	_, err = svc.HashPassword("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestTokenRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	payload, err := svc.Encrypt(ctx, []byte("tokenized"))
	require.NoError(t, err)

	parsed, err := ParseToken(payload.Token())
	require.NoError(t, err)
	assert.Equal(t, payload, parsed)
}
