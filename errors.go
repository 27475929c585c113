package notify

import "errors"

var (
	// Authorization and validation errors, raised synchronously to the
	// caller of the notification operations.
	ErrForbidden    = errors.New("notify: forbidden")
	ErrNotFound     = errors.New("notify: not found")
	ErrInvalidInput = errors.New("notify: invalid input")

	// ErrUnavailable indicates a required external provider is not
	// configured or not reachable.
	ErrUnavailable = errors.New("notify: service unavailable")

	// Queue errors.
	ErrNoQueue          = errors.New("notify: queue not configured")
	ErrJobNotFound      = errors.New("notify: job not found")
	ErrJobAlreadyExists = errors.New("notify: job already exists")

	// ErrInvalidState indicates an illegal job state transition.
	ErrInvalidState = errors.New("notify: invalid state transition")
)
