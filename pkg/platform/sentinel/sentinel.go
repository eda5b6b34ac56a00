package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, backends, and lookup
// adapters return these (optionally wrapped) so services can translate them
// into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrExpired: credential or enrollment has expired
// - ErrAlreadyUsed: single-use resource (backup code) already consumed
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: backend or lookup temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
