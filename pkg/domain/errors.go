package domain

import "errors"

// Error classes shared by every layer. Specific errors wrap one of these with
// fmt.Errorf("%w: ...") so the HTTP boundary can classify them with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrRateLimited  = errors.New("rate limit exceeded")
)
