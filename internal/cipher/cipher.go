// Package cipher provides all at-rest protection of sensitive values:
// authenticated encryption, salted hashing, HMAC signing, and context-bound
// field encryption, keyed by a rotating key identifier.
package cipher

import (
	"context"
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"vigil/internal/events"
	"vigil/internal/platform/metrics"
	dErrors "vigil/pkg/domain-errors"
)

const (
	nonceSize      = 12
	keySize        = 32
	contextTagSize = 16
	keyIDPrefix    = "k"
)

// EventRecorder is the slice of the event log the cipher service needs.
type EventRecorder interface {
	Record(ctx context.Context, category events.Category, action string, outcome events.Outcome, detail events.Detail)
}

// Service performs authenticated encryption and hashing. Data keys are
// derived per key id from a base secret, so historical key ids remain
// decryptable after rotation without storing key material.
//
// Encrypt always uses the current key id; Decrypt accepts any id ever
// issued. A fresh random nonce is drawn per encryption and is mandatory on
// decryption.
type Service struct {
	mu        sync.RWMutex
	master    []byte
	currentID int
	aeads     map[string]gocipher.AEAD

	tagKey  []byte
	hmacKey []byte

	recorder EventRecorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithEventRecorder(r EventRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithCurrentKeyID resumes the key ring at a previously persisted id.
func WithCurrentKeyID(keyID string) Option {
	return func(s *Service) {
		if n, err := parseKeyID(keyID); err == nil {
			s.currentID = n
		}
	}
}

// New constructs a Service from the configured base secret.
func New(baseSecret string, opts ...Option) (*Service, error) {
	if baseSecret == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "encryption base secret cannot be empty")
	}

	master := sha256.Sum256([]byte(baseSecret))
	s := &Service{
		master:    master[:],
		currentID: 1,
		aeads:     make(map[string]gocipher.AEAD),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.tagKey, err = s.deriveKey("vigil/context-tag"); err != nil {
		return nil, err
	}
	if s.hmacKey, err = s.deriveKey("vigil/hmac"); err != nil {
		return nil, err
	}
	return s, nil
}

// CurrentKeyID returns the key id new encryptions are issued under.
func (s *Service) CurrentKeyID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return keyIDPrefix + strconv.Itoa(s.currentID)
}

// RotateKey advances the current key id. Payloads issued under earlier ids
// remain decryptable.
func (s *Service) RotateKey(ctx context.Context) string {
	s.mu.Lock()
	s.currentID++
	newID := keyIDPrefix + strconv.Itoa(s.currentID)
	s.mu.Unlock()

	s.record(ctx, events.ActionKeyRotated, events.OutcomeSuccess, events.CipherDetail{KeyID: newID})
	return newID
}

// Encrypt seals plaintext under the current key id.
func (s *Service) Encrypt(ctx context.Context, plaintext []byte) (*EncryptedPayload, error) {
	defer s.observe("encrypt", time.Now())
	return s.encrypt(ctx, s.CurrentKeyID(), nil, plaintext)
}

// EncryptPinned seals plaintext under an explicitly pinned key id. Used by
// migrations that must re-issue payloads for a known generation.
func (s *Service) EncryptPinned(ctx context.Context, keyID string, plaintext []byte) (*EncryptedPayload, error) {
	return s.encrypt(ctx, keyID, nil, plaintext)
}

// Decrypt opens a payload. Authentication failures of any kind (tampering,
// wrong key, wrong context) surface as one uniform decryption error so the
// caller cannot be used as an oracle.
func (s *Service) Decrypt(ctx context.Context, payload *EncryptedPayload) ([]byte, error) {
	defer s.observe("decrypt", time.Now())
	plaintext, err := s.open(payload)
	if err != nil {
		s.record(ctx, events.ActionDecryptFailed, events.OutcomeFailure, events.CipherDetail{KeyID: payload.KeyID})
		return nil, err
	}
	return plaintext, nil
}

// EncryptField seals a value bound to a logical field name and subject
// identity. The derived context tag travels in the payload and is fed to the
// AEAD as associated data, so a token copied into a different field or
// subject can never decrypt.
func (s *Service) EncryptField(ctx context.Context, field, subjectID string, value []byte) (string, error) {
	defer s.observe("encrypt_field", time.Now())
	payload, err := s.encrypt(ctx, s.CurrentKeyID(), s.contextTag(field, subjectID), value)
	if err != nil {
		return "", err
	}
	return payload.Token(), nil
}

// DecryptField opens a field token, verifying the context binding before
// any plaintext is returned.
func (s *Service) DecryptField(ctx context.Context, field, subjectID, token string) ([]byte, error) {
	defer s.observe("decrypt_field", time.Now())
	payload, err := ParseToken(token)
	if err != nil {
		s.record(ctx, events.ActionDecryptFailed, events.OutcomeFailure, events.CipherDetail{Field: field})
		return nil, err
	}

	expected := s.contextTag(field, subjectID)
	if !hmac.Equal(expected, payload.ContextTag) {
		s.record(ctx, events.ActionContextMismatch, events.OutcomeFailure, events.CipherDetail{KeyID: payload.KeyID, Field: field})
		return nil, dErrors.New(dErrors.CodeInvalidContext, "payload does not match encryption context")
	}

	plaintext, err := s.open(payload)
	if err != nil {
		s.record(ctx, events.ActionDecryptFailed, events.OutcomeFailure, events.CipherDetail{KeyID: payload.KeyID, Field: field})
		return nil, err
	}
	return plaintext, nil
}

// Hash produces a salted one-way hash for values that are only ever
// compared, never recovered. A fresh salt is drawn when none is supplied.
func (s *Service) Hash(value string, salt []byte) (string, error) {
	if salt == nil {
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate salt")
		}
	}
	sum := saltedSum(salt, value)
	enc := base64.RawStdEncoding
	return enc.EncodeToString(salt) + "$" + enc.EncodeToString(sum), nil
}

// VerifyHash compares value against a salted hash in constant time.
func (s *Service) VerifyHash(value, hashed string) bool {
	salt, sum, ok := splitHash(hashed)
	if !ok {
		return false
	}
	return hmac.Equal(sum, saltedSum(salt, value))
}

// Sign computes an HMAC-SHA-256 signature for data that travels outside the
// encryption boundary (signed URLs and similar).
func (s *Service) Sign(data []byte) []byte {
	mac := hmac.New(sha256.New, s.hmacKey)
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifySign checks a signature in constant time.
func (s *Service) VerifySign(data, signature []byte) bool {
	return hmac.Equal(signature, s.Sign(data))
}

func (s *Service) encrypt(ctx context.Context, keyID string, contextTag, plaintext []byte) (*EncryptedPayload, error) {
	aead, err := s.aead(keyID)
	if err != nil {
		s.record(ctx, events.ActionEncryptFailed, events.OutcomeFailure, events.CipherDetail{KeyID: keyID})
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		s.record(ctx, events.ActionEncryptFailed, events.OutcomeFailure, events.CipherDetail{KeyID: keyID})
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not generate nonce")
	}

	return &EncryptedPayload{
		KeyID:      keyID,
		ContextTag: contextTag,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, contextTag),
	}, nil
}

func (s *Service) open(payload *EncryptedPayload) ([]byte, error) {
	aead, err := s.aead(payload.KeyID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeDecryptionFailed, "decryption failed")
	}
	if len(payload.Nonce) != nonceSize {
		return nil, dErrors.New(dErrors.CodeDecryptionFailed, "decryption failed")
	}
	plaintext, err := aead.Open(nil, payload.Nonce, payload.Ciphertext, payload.ContextTag)
	if err != nil {
		// Deliberately uniform: no distinction between tampering, wrong
		// key, and wrong context.
		return nil, dErrors.New(dErrors.CodeDecryptionFailed, "decryption failed")
	}
	return plaintext, nil
}

func (s *Service) aead(keyID string) (gocipher.AEAD, error) {
	if _, err := parseKeyID(keyID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	aead, ok := s.aeads[keyID]
	s.mu.RUnlock()
	if ok {
		return aead, nil
	}

	key, err := s.deriveKey("vigil/key/" + keyID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not build cipher")
	}
	aead, err = gocipher.NewGCM(block)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not build AEAD")
	}

	s.mu.Lock()
	s.aeads[keyID] = aead
	s.mu.Unlock()
	return aead, nil
}

func (s *Service) deriveKey(info string) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.master, nil, []byte(info)), key); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "key derivation failed")
	}
	return key, nil
}

func (s *Service) contextTag(field, subjectID string) []byte {
	mac := hmac.New(sha256.New, s.tagKey)
	mac.Write([]byte(field))
	mac.Write([]byte{0x1f})
	mac.Write([]byte(subjectID))
	return mac.Sum(nil)[:contextTagSize]
}

func (s *Service) record(ctx context.Context, action string, outcome events.Outcome, detail events.Detail) {
	if s.recorder != nil {
		s.recorder.Record(ctx, events.CategoryCipher, action, outcome, detail)
	}
}

func (s *Service) observe(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.CipherOpDurationMs.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000)
	}
}

func parseKeyID(keyID string) (int, error) {
	num, ok := strings.CutPrefix(keyID, keyIDPrefix)
	if !ok {
		return 0, dErrors.Newf(dErrors.CodeInvalidInput, "unknown key id %q", keyID)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 {
		return 0, dErrors.Newf(dErrors.CodeInvalidInput, "unknown key id %q", keyID)
	}
	return n, nil
}

func saltedSum(salt []byte, value string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(value))
	return h.Sum(nil)
}

func splitHash(hashed string) (salt, sum []byte, ok bool) {
	parts := strings.SplitN(hashed, "$", 2)
	if len(parts) != 2 {
		return nil, nil, false
	}
	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[0])
	if err != nil {
		return nil, nil, false
	}
	sum, err = enc.DecodeString(parts[1])
	if err != nil {
		return nil, nil, false
	}
	return salt, sum, true
}
