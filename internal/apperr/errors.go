package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrInvalidKey    = errors.New("invalid storage key")
	ErrDepthCapped   = errors.New("expansion depth capped")
)
