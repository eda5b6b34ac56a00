// Package twofactor implements TOTP second-factor enrollment and
// verification with single-use backup codes.
package twofactor

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pquerna/otp/totp"

	"vigil/internal/events"
	"vigil/internal/platform/clock"
	"vigil/internal/platform/metrics"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/notifier"
	"vigil/pkg/platform/sentinel"
	"vigil/pkg/secrets"
)

const (
	backupCodeCount   = 10
	lowCodesThreshold = 2

	secretField     = "totp_secret"
	backupCodeField = "backup_code"
)

// Cipher is the at-rest protection surface this service needs.
type Cipher interface {
	EncryptField(ctx context.Context, field, subjectID string, value []byte) (string, error)
	DecryptField(ctx context.Context, field, subjectID, token string) ([]byte, error)
}

// EventRecorder is the slice of the event log this service needs.
type EventRecorder interface {
	Record(ctx context.Context, category events.Category, action string, outcome events.Outcome, detail events.Detail)
}

// Service owns TwoFactorEnrollment records exclusively. All verification
// outcomes are deliberately generic: callers never learn whether a TOTP code
// or a backup code was the near miss.
type Service struct {
	store    EnrollmentStore
	cipher   Cipher
	recorder EventRecorder
	notifier notifier.Notifier
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	issuer   string

	// userLocks serializes mutations per user so two racing verifies can
	// consume the same backup code exactly once.
	userLocks sync.Map
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithNotifier(n notifier.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = issuer }
}

func New(store EnrollmentStore, cipher Cipher, recorder EventRecorder, opts ...Option) *Service {
	s := &Service{
		store:    store,
		cipher:   cipher,
		recorder: recorder,
		notifier: notifier.Noop{},
		clock:    clock.Real{},
		logger:   slog.Default(),
		issuer:   "vigil",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Setup starts (or restarts) enrollment: a fresh shared secret and ten
// backup codes, persisted encrypted in the pending state. The plaintext is
// returned to the caller exactly once.
func (s *Service) Setup(ctx context.Context, userID, identityLabel string) (*SetupResult, error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user id cannot be empty")
	}

	unlock := s.lockUser(userID)
	defer unlock()

	existing, err := s.store.Get(ctx, userID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load enrollment")
	}
	if existing != nil && existing.Enabled() {
		return nil, dErrors.New(dErrors.CodeConflict, "two-factor is already enabled; disable it before re-enrolling")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: identityLabel,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate TOTP secret")
	}

	codes, err := secrets.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate backup codes")
	}

	secretToken, err := s.cipher.EncryptField(ctx, secretField, userID, []byte(key.Secret()))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to protect TOTP secret")
	}
	codeTokens, err := s.encryptCodes(ctx, userID, codes)
	if err != nil {
		return nil, err
	}

	enrollment := &Enrollment{
		UserID:           userID,
		State:            StatePending,
		SecretToken:      secretToken,
		BackupCodeTokens: codeTokens,
		SetupAt:          s.clock.Now(),
	}
	if err := s.store.Save(ctx, enrollment); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save enrollment")
	}

	s.record(ctx, events.ActionTwoFactorSetup, events.OutcomeSuccess,
		events.TwoFactorDetail{UserID: userID})

	return &SetupResult{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		BackupCodes:     codes,
	}, nil
}

// Enable completes enrollment with a proof-of-possession code. A failed
// proof is an expected outcome: it returns false, never an error.
func (s *Service) Enable(ctx context.Context, userID, proofCode string) (bool, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	enrollment, err := s.store.Get(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, dErrors.New(dErrors.CodeNotFound, "no pending enrollment")
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load enrollment")
	}
	if enrollment.State != StatePending {
		return false, dErrors.New(dErrors.CodeInvariantViolation, "enrollment is not pending")
	}

	ok, err := s.checkTOTP(ctx, enrollment, proofCode)
	if err != nil {
		return false, err
	}
	if !ok {
		s.record(ctx, events.ActionTwoFactorRejected, events.OutcomeFailure,
			events.TwoFactorDetail{UserID: userID, Method: "totp"})
		return false, nil
	}

	now := s.clock.Now()
	enrollment.State = StateEnabled
	enrollment.EnabledAt = &now
	if err := s.store.Save(ctx, enrollment); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save enrollment")
	}

	s.record(ctx, events.ActionTwoFactorEnabled, events.OutcomeSuccess,
		events.TwoFactorDetail{UserID: userID})
	s.notify(ctx, "two-factor authentication enabled",
		fmt.Sprintf("Two-factor authentication was enabled for account %s.", userID),
		notifier.SeverityInfo)
	return true, nil
}

// Verify checks a login code from an enabled enrollment: TOTP first, then
// the remaining backup codes. A backup-code match consumes the code; two
// concurrent calls racing on the same code yield exactly one success.
func (s *Service) Verify(ctx context.Context, userID, code string) (bool, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	enrollment, err := s.store.Get(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.recordRejected(ctx, userID, "")
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load enrollment")
	}
	if !enrollment.Enabled() {
		s.recordRejected(ctx, userID, "")
		return false, nil
	}

	if ok, err := s.checkTOTP(ctx, enrollment, code); err != nil {
		return false, err
	} else if ok {
		now := s.clock.Now()
		enrollment.LastUsedAt = &now
		if err := s.store.Save(ctx, enrollment); err != nil {
			return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save enrollment")
		}
		s.record(ctx, events.ActionTwoFactorVerified, events.OutcomeSuccess,
			events.TwoFactorDetail{UserID: userID, Method: "totp"})
		s.countVerify("totp", "success")
		return true, nil
	}

	consumed, remaining, err := s.consumeBackupCode(ctx, enrollment, code)
	if err != nil {
		return false, err
	}
	if !consumed {
		s.recordRejected(ctx, userID, "")
		s.countVerify("backup_code", "failure")
		return false, nil
	}

	s.record(ctx, events.ActionBackupCodeUsed, events.OutcomeSuccess,
		events.TwoFactorDetail{UserID: userID, Method: "backup_code", CodesRemaining: remaining})
	s.countVerify("backup_code", "success")

	if remaining == lowCodesThreshold {
		s.record(ctx, events.ActionBackupCodesLow, events.OutcomeSuccess,
			events.TwoFactorDetail{UserID: userID, Method: "backup_code", CodesRemaining: remaining})
		s.notify(ctx, "backup codes running low",
			fmt.Sprintf("Account %s has %d backup codes remaining. Generate new ones soon.", userID, remaining),
			notifier.SeverityWarning)
	}
	return true, nil
}

// Disable turns the second factor off. Reauthentication is verified by an
// external identity collaborator; this service only records the outcome.
// Disabling is itself a risk signal, so a security notification always
// accompanies success.
func (s *Service) Disable(ctx context.Context, userID string, reauthOK bool) (bool, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	enrollment, err := s.store.Get(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, dErrors.New(dErrors.CodeNotFound, "no enrollment")
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load enrollment")
	}
	if !enrollment.Enabled() {
		return false, dErrors.New(dErrors.CodeInvariantViolation, "two-factor is not enabled")
	}

	if !reauthOK {
		s.record(ctx, events.ActionTwoFactorRejected, events.OutcomeFailure,
			events.TwoFactorDetail{UserID: userID})
		return false, nil
	}

	enrollment.State = StateDisabled
	if err := s.store.Save(ctx, enrollment); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save enrollment")
	}

	s.record(ctx, events.ActionTwoFactorDisabled, events.OutcomeSuccess,
		events.TwoFactorDetail{UserID: userID})
	s.notify(ctx, "two-factor authentication disabled",
		fmt.Sprintf("Two-factor authentication was disabled for account %s. If this was not you, secure your account immediately.", userID),
		notifier.SeverityWarning)
	return true, nil
}

// RegenerateBackupCodes replaces the full backup-code set atomically; old
// codes become invalid the moment the new set is saved.
func (s *Service) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	enrollment, err := s.store.Get(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no enrollment")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load enrollment")
	}
	if !enrollment.Enabled() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "two-factor is not enabled")
	}

	codes, err := secrets.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate backup codes")
	}
	codeTokens, err := s.encryptCodes(ctx, userID, codes)
	if err != nil {
		return nil, err
	}

	enrollment.BackupCodeTokens = codeTokens
	if err := s.store.Save(ctx, enrollment); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save enrollment")
	}

	s.record(ctx, events.ActionBackupCodesRegenerated, events.OutcomeSuccess,
		events.TwoFactorDetail{UserID: userID})
	return codes, nil
}

// Status returns the user's enrollment state for display.
func (s *Service) Status(ctx context.Context, userID string) (State, int, error) {
	enrollment, err := s.store.Get(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load enrollment")
	}
	return enrollment.State, len(enrollment.BackupCodeTokens), nil
}

func (s *Service) checkTOTP(ctx context.Context, enrollment *Enrollment, code string) (bool, error) {
	secret, err := s.cipher.DecryptField(ctx, secretField, enrollment.UserID, enrollment.SecretToken)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to recover TOTP secret")
	}
	// totp.Validate tolerates one period of clock skew either side.
	return totp.Validate(code, string(secret)), nil
}

func (s *Service) consumeBackupCode(ctx context.Context, enrollment *Enrollment, code string) (bool, int, error) {
	normalized := secrets.NormalizeBackupCode(code)
	matched := -1
	for i, token := range enrollment.BackupCodeTokens {
		plain, err := s.cipher.DecryptField(ctx, backupCodeField, enrollment.UserID, token)
		if err != nil {
			return false, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to recover backup code")
		}
		if subtle.ConstantTimeCompare([]byte(secrets.NormalizeBackupCode(string(plain))), []byte(normalized)) == 1 {
			matched = i
			// Keep iterating so the comparison count is independent of
			// where the match sits.
		}
	}
	if matched < 0 {
		return false, len(enrollment.BackupCodeTokens), nil
	}

	enrollment.BackupCodeTokens = append(
		enrollment.BackupCodeTokens[:matched],
		enrollment.BackupCodeTokens[matched+1:]...)
	now := s.clock.Now()
	enrollment.LastUsedAt = &now
	if err := s.store.Save(ctx, enrollment); err != nil {
		return false, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save enrollment")
	}
	return true, len(enrollment.BackupCodeTokens), nil
}

func (s *Service) encryptCodes(ctx context.Context, userID string, codes []string) ([]string, error) {
	tokens := make([]string, len(codes))
	for i, code := range codes {
		token, err := s.cipher.EncryptField(ctx, backupCodeField, userID, []byte(code))
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to protect backup code")
		}
		tokens[i] = token
	}
	return tokens, nil
}

func (s *Service) lockUser(userID string) func() {
	v, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Service) record(ctx context.Context, action string, outcome events.Outcome, detail events.Detail) {
	if s.recorder != nil {
		s.recorder.Record(ctx, events.CategoryTwoFactor, action, outcome, detail)
	}
}

func (s *Service) recordRejected(ctx context.Context, userID, method string) {
	s.record(ctx, events.ActionTwoFactorRejected, events.OutcomeFailure,
		events.TwoFactorDetail{UserID: userID, Method: method})
}

func (s *Service) notify(ctx context.Context, subject, body string, severity notifier.Severity) {
	if err := s.notifier.SendAlert(ctx, subject, body, severity); err != nil {
		s.logger.Warn("two-factor notification failed", "subject", subject, "error", err)
		s.recorder.Record(ctx, events.CategoryNotify, events.ActionAlertFailed, events.OutcomeFailure,
			events.NotifyDetail{Subject: subject})
	}
}

func (s *Service) countVerify(method, outcome string) {
	if s.metrics != nil {
		s.metrics.TwoFactorVerifies.WithLabelValues(method, outcome).Inc()
	}
}
