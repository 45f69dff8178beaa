package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound marks status/cancel/retry calls against an unknown job.
	ErrJobNotFound = errors.New("job not found")

	// ErrProcessorNotFound marks registry lookups for an unregistered backend.
	ErrProcessorNotFound = errors.New("processor not found")

	// ErrInvalidState marks control operations against a wrongly-staged job,
	// e.g. retrying a job that is not failed.
	ErrInvalidState = errors.New("invalid job state")

	// ErrValidation marks bad input. Never retried automatically.
	ErrValidation = errors.New("validation failed")

	// ErrConversion marks extraction failures or empty conversion output.
	ErrConversion = errors.New("conversion failed")

	// ErrTransient marks network/timeout failures of a processing backend,
	// eligible for bounded automatic retry.
	ErrTransient = errors.New("transient backend failure")

	// ErrIndexing marks rejected index writes. Not retried automatically;
	// the caller may retry the job explicitly.
	ErrIndexing = errors.New("indexing failed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsUsageError reports whether err should be surfaced directly to the caller
// instead of being written into a job record.
func IsUsageError(err error) bool {
	return errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrProcessorNotFound) ||
		errors.Is(err, ErrInvalidState)
}
