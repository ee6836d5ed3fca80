package jobs

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation")
	ErrNoJob      = errors.New("no job available")
)

const (
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeConflict      = "CONFLICT"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeProvider      = "PROVIDER_ERROR"
	ErrorCodeContentPolicy = "CONTENT_POLICY"
	ErrorCodeStorage       = "STORAGE_ERROR"
	ErrorCodeCancelled     = "CANCELLED"
	ErrorCodeInternal      = "INTERNAL_ERROR"
)
