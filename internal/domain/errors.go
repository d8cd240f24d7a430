package domain

import "errors"

// Sentinel errors for the application. Handlers and the wire layer map
// these onto HTTP statuses and error codes.
var (
	ErrValidation   = errors.New("invalid input")
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid call session state")
	ErrDelivery     = errors.New("delivery failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized access")
)
