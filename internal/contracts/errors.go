package contracts

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrDecode                 = errors.New("account decode failed")
	ErrInsufficientSignatures = errors.New("insufficient signatures")
	ErrDuplicateSigner        = errors.New("duplicate signer")
	ErrTooLarge               = errors.New("transaction too large")
	ErrNoInstructions         = errors.New("transaction has no instructions")
	ErrRateLimitExceeded      = errors.New("rate limit exceeded")
	ErrSubmissionFailed       = errors.New("transaction submission failed")
	ErrExpired                = errors.New("blockhash expired")
	ErrTimeout                = errors.New("confirmation timed out")
	ErrStorageUnavailable     = errors.New("rate limit storage unavailable")
)

const (
	ErrorCategoryValidation = "validation"
	ErrorCategoryRateLimit  = "rate_limit"
	ErrorCategorySubmission = "submission"
	ErrorCategoryStorage    = "storage"
	ErrorCategoryInternal   = "internal"
)

// CategorizedError pins a category on an error that would otherwise be
// classified by its sentinel chain.
type CategorizedError struct {
	Category string
	Err      error
}

func (e *CategorizedError) Error() string {
	return e.Err.Error()
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Validationf returns an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Submissionf wraps the underlying network/program error with ErrSubmissionFailed,
// keeping its diagnostic text intact.
func Submissionf(err error, format string, args ...any) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrSubmissionFailed, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("%w: %s: %w", ErrSubmissionFailed, fmt.Sprintf(format, args...), err)
}

func normalizeErrorCategory(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case ErrorCategoryValidation:
		return ErrorCategoryValidation
	case ErrorCategoryRateLimit:
		return ErrorCategoryRateLimit
	case ErrorCategorySubmission:
		return ErrorCategorySubmission
	case ErrorCategoryStorage:
		return ErrorCategoryStorage
	default:
		return ErrorCategoryInternal
	}
}

func WrapCategorizedError(category string, err error) error {
	if err == nil {
		return nil
	}
	var existing *CategorizedError
	if errors.As(err, &existing) {
		return &CategorizedError{
			Category: normalizeErrorCategory(existing.Category),
			Err:      existing.Err,
		}
	}
	return &CategorizedError{
		Category: normalizeErrorCategory(category),
		Err:      err,
	}
}

// ErrorCategory classifies err for transport status codes and metric labels.
func ErrorCategory(err error) string {
	var classified *CategorizedError
	if errors.As(err, &classified) {
		return normalizeErrorCategory(classified.Category)
	}
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimitExceeded):
		return ErrorCategoryRateLimit
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrDecode),
		errors.Is(err, ErrInsufficientSignatures),
		errors.Is(err, ErrDuplicateSigner),
		errors.Is(err, ErrTooLarge),
		errors.Is(err, ErrNoInstructions):
		return ErrorCategoryValidation
	case errors.Is(err, ErrSubmissionFailed),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrTimeout):
		return ErrorCategorySubmission
	case errors.Is(err, ErrStorageUnavailable):
		return ErrorCategoryStorage
	default:
		return ErrorCategoryInternal
	}
}
