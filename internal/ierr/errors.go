package ierr

import "errors"

var (
	ErrValidation     = errors.New("validation failed")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("resource not found")
	ErrInternalServer = errors.New("internal server error")

	// License lifecycle outcomes. ErrNotEligible is deliberately opaque:
	// it covers not-found, blocked, expired and exhausted uniformly so the
	// caller cannot probe which condition failed.
	ErrDuplicateKey     = errors.New("license key already exists")
	ErrNotEligible      = errors.New("license is not eligible for use")
	ErrInvalidLimit     = errors.New("use limit must stay at or above 1")
	ErrNoChange         = errors.New("requested state already in effect")
	ErrStoreUnavailable = errors.New("license store unavailable")
	ErrMisconfigured    = errors.New("license key derivation is misconfigured")

	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrTokenInvalidClaims = errors.New("token contains invalid claims type")
	ErrAPIKeyNotFound     = errors.New("api key not found or disabled")
)
