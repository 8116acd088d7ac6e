package authz

import "errors"

var (
	// ErrNotFound is returned when an entity is absent or soft-deleted.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on duplicate codes, duplicate identities, or a
	// busy registration lease.
	ErrConflict = errors.New("conflict")
	// ErrInvalidInput is returned for malformed input, self-parenting, and
	// dangling parent references.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized covers missing, invalid, expired, and revoked
	// credentials. Callers must not distinguish the causes.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when an authenticated caller lacks the
	// required permission or tenant relationship.
	ErrForbidden = errors.New("forbidden")
)
