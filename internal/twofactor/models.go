package twofactor

import "time"

// State is the enrollment lifecycle position. Absence of an enrollment
// record means not set up.
//
//	NotSetUp -> PendingEnrollment -> Enabled -> Disabled
//
// Disabled re-enters PendingEnrollment through a fresh Setup.
type State string

const (
	StatePending  State = "pending_enrollment"
	StateEnabled  State = "enabled"
	StateDisabled State = "disabled"
)

// Enrollment holds one user's second-factor state. The shared secret and
// backup codes are stored as context-bound cipher tokens, never plaintext.
// Backup codes are ordered and consumed one at a time.
type Enrollment struct {
	UserID           string
	State            State
	SecretToken      string
	BackupCodeTokens []string
	SetupAt          time.Time
	EnabledAt        *time.Time
	LastUsedAt       *time.Time
}

// Enabled reports whether verification is currently permitted.
func (e *Enrollment) Enabled() bool { return e.State == StateEnabled }

// Clone returns a deep copy so store reads never alias live state.
func (e *Enrollment) Clone() *Enrollment {
	if e == nil {
		return nil
	}
	copied := *e
	copied.BackupCodeTokens = append([]string(nil), e.BackupCodeTokens...)
	if e.EnabledAt != nil {
		t := *e.EnabledAt
		copied.EnabledAt = &t
	}
	if e.LastUsedAt != nil {
		t := *e.LastUsedAt
		copied.LastUsedAt = &t
	}
	return &copied
}

// SetupResult carries the plaintext secret and codes back to the caller
// exactly once; they cannot be retrieved again.
type SetupResult struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}
