package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrIndexNotBuilt      = errors.New("index not built")
	ErrEmptyCorpus        = errors.New("empty corpus")
	ErrGenerationFormat   = errors.New("generation format error")
	ErrBackendTimeout     = errors.New("backend timeout")
	ErrBackendUnavailable = errors.New("backend unavailable")
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

// GenerationFormatError is returned when the generation backend keeps producing
// output that does not match the answer contract after the allowed retries.
type GenerationFormatError struct {
	Attempts int
	Raw      string
	Err      error
}

func (e *GenerationFormatError) Error() string {
	return fmt.Sprintf("generation format error after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *GenerationFormatError) Unwrap() []error {
	return []error{ErrGenerationFormat, e.Err}
}

// ErrorKind returns a short stable name for the semantic kind of err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrIndexNotBuilt):
		return "index_not_built"
	case errors.Is(err, ErrEmptyCorpus):
		return "empty_corpus"
	case errors.Is(err, ErrGenerationFormat):
		return "generation_format"
	case errors.Is(err, ErrBackendTimeout):
		return "backend_timeout"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	default:
		return "internal"
	}
}
