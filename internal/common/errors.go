// Package common defines shared constants and sentinel errors used across
// the medkeeper security core. Callers should use errors.Is to match these
// values; concrete failures wrap them with fmt.Errorf("...: %w").
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Cipher engine errors.
	ErrCryptoUnavailable = errors.New("crypto primitives unavailable")
	ErrKeyFormat         = errors.New("malformed key material")
	ErrDecryption        = errors.New("decryption failed")

	// Record guard errors. ErrRecordCorrupted blocks access,
	// ErrIntegrityViolation is a warning that still lets the record be read.
	ErrRecordCorrupted    = errors.New("record corrupted")
	ErrIntegrityViolation = errors.New("integrity digest mismatch")

	// Credential errors. Every token failure collapses to ErrTokenInvalid.
	ErrTokenInvalid           = errors.New("invalid token")
	ErrInsufficientPermission = errors.New("insufficient permission")
	ErrUserInactive           = errors.New("user inactive")
)
