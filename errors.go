package geoapi

import "errors"

var (
	// Store errors.
	ErrNoStore = errors.New("geoapi: no store configured")

	// Not found errors.
	ErrUnknownResource = errors.New("geoapi: unknown resource")
	ErrUnknownProcess  = errors.New("geoapi: unknown process")
	ErrUnknownJob      = errors.New("geoapi: unknown job")
	ErrNotFound        = errors.New("geoapi: item not found")

	// Dispatch errors.
	ErrUnsupportedOperation = errors.New("geoapi: operation not supported by resource")
	ErrNoCompatibleProvider = errors.New("geoapi: no compatible provider")
	ErrUnsupportedEncoding  = errors.New("geoapi: unsupported encoding")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("geoapi: job already exists")

	// Job lifecycle errors.
	ErrInvalidTransition = errors.New("geoapi: invalid job state transition")
	ErrResultNotReady    = errors.New("geoapi: job result not ready")
	ErrJobFailed         = errors.New("geoapi: job failed")
	ErrJobDismissed      = errors.New("geoapi: job dismissed")
	ErrJobNotTerminal    = errors.New("geoapi: job not terminal")
	ErrAlreadyTerminal   = errors.New("geoapi: job already terminal")

	// Admission errors.
	ErrOverloaded       = errors.New("geoapi: submission queue full")
	ErrExecutionTimeout = errors.New("geoapi: synchronous execution timed out")
)
