package events

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Category classifies security events by the subsystem that produced them.
// Burst-failure detection windows are tracked per category.
type Category string

const (
	CategoryCredential Category = "credential"
	CategoryCipher     Category = "cipher"
	CategoryTwoFactor  Category = "twofactor"
	CategoryRotation   Category = "rotation"
	CategoryGeo        Category = "geo"
	CategoryNotify     Category = "notify"
)

// Outcome is the result of the recorded operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Action names for recorded events.
const (
	ActionCredentialValidated    = "credential_validated"
	ActionCredentialRejected     = "credential_rejected"
	ActionCredentialRotated      = "credential_rotated"
	ActionCredentialRevoked      = "credential_revoked"
	ActionRotationWarning        = "rotation_warning"
	ActionRotationOverdue        = "rotation_overdue"
	ActionKeyRotated             = "key_rotated"
	ActionEncryptFailed          = "encrypt_failed"
	ActionDecryptFailed          = "decrypt_failed"
	ActionContextMismatch        = "encryption_context_mismatch"
	ActionTwoFactorSetup         = "twofactor_setup"
	ActionTwoFactorEnabled       = "twofactor_enabled"
	ActionTwoFactorVerified      = "twofactor_verified"
	ActionTwoFactorRejected      = "twofactor_rejected"
	ActionTwoFactorDisabled      = "twofactor_disabled"
	ActionBackupCodeUsed         = "backup_code_used"
	ActionBackupCodesLow         = "backup_codes_low"
	ActionBackupCodesRegenerated = "backup_codes_regenerated"
	ActionGeoDecision            = "geo_decision"
	ActionGeoLookupFailed        = "geo_lookup_failed"
	ActionAlertFailed            = "alert_failed"
)

// Detail is a closed set of typed event payloads, one variant per category,
// so detail fields stay type-checked instead of traveling as opaque maps.
type Detail interface {
	// Fields flattens the detail for sinks (structured logs, stream
	// entries, archive rows).
	Fields() map[string]string

	detail()
}

// CredentialDetail describes credential-tier events.
type CredentialDetail struct {
	Tier   string
	Reason string
}

func (d CredentialDetail) detail() {}
func (d CredentialDetail) Fields() map[string]string {
	return trimEmpty(map[string]string{"tier": d.Tier, "reason": d.Reason})
}

// CipherDetail describes encryption and hashing events. It carries the key
// id and logical field name only, never plaintext or key material.
type CipherDetail struct {
	KeyID string
	Field string
}

func (d CipherDetail) detail() {}
func (d CipherDetail) Fields() map[string]string {
	return trimEmpty(map[string]string{"key_id": d.KeyID, "field": d.Field})
}

// TwoFactorDetail describes enrollment state transitions and verifications.
type TwoFactorDetail struct {
	UserID         string
	Method         string // "totp" or "backup_code"; empty when not a verification
	CodesRemaining int
}

func (d TwoFactorDetail) detail() {}
func (d TwoFactorDetail) Fields() map[string]string {
	f := trimEmpty(map[string]string{"user_id": d.UserID, "method": d.Method})
	if d.Method == "backup_code" {
		f["codes_remaining"] = strconv.Itoa(d.CodesRemaining)
	}
	return f
}

// RotationDetail describes scheduler activity.
type RotationDetail struct {
	Target       string // tier name or "cipher_key"
	SupersededID string
	Reason       string
}

func (d RotationDetail) detail() {}
func (d RotationDetail) Fields() map[string]string {
	return trimEmpty(map[string]string{
		"target":        d.Target,
		"superseded_id": d.SupersededID,
		"reason":        d.Reason,
	})
}

// GeoDetail describes geo risk decisions.
type GeoDetail struct {
	IP      string
	Country string
	Reason  string
}

func (d GeoDetail) detail() {}
func (d GeoDetail) Fields() map[string]string {
	return trimEmpty(map[string]string{"ip": d.IP, "country": d.Country, "reason": d.Reason})
}

// NotifyDetail describes alert delivery outcomes.
type NotifyDetail struct {
	Subject string
}

func (d NotifyDetail) detail() {}
func (d NotifyDetail) Fields() map[string]string {
	return trimEmpty(map[string]string{"subject": d.Subject})
}

// SecurityEvent is immutable once recorded.
type SecurityEvent struct {
	ID        uuid.UUID
	Category  Category
	Action    string
	Outcome   Outcome
	Detail    Detail
	Timestamp time.Time
}

func trimEmpty(m map[string]string) map[string]string {
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	return m
}
