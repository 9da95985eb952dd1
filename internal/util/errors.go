package util

import (
	"errors"
	"fmt"
)

var (
	ErrNoExtractableText = errors.New("no extractable text found in PDF")

	ErrTransport          = errors.New("transport error")
	ErrTimeout            = errors.New("timeout")
	ErrParse              = errors.New("parse error")
	ErrValidation         = errors.New("validation error")
	ErrConsistency        = errors.New("consistency error")
	ErrNotFound           = errors.New("not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// TransportError is a failed remote call. Timeout separates slow from broken.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Attempts   int
	Timeout    bool
	Err        error
}

func (e *TransportError) Error() string {
	msg := e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Timeout {
		msg += " timed out"
	} else {
		msg += " failed"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport || (e.Timeout && target == ErrTimeout)
}

type ValidationReason string

const (
	ValidationEmpty        ValidationReason = "empty"
	ValidationTooLarge     ValidationReason = "too_large"
	ValidationBadSignature ValidationReason = "bad_signature"
	ValidationTooManyPages ValidationReason = "too_many_pages"
	ValidationMissingID    ValidationReason = "missing_id"
	ValidationNoContent    ValidationReason = "no_content"
)

type ValidationError struct {
	Reason ValidationReason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Reason, e.Detail)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// LimitExceeded reports size and page violations, which ingestion skips quietly.
func (e *ValidationError) LimitExceeded() bool {
	return e.Reason == ValidationTooLarge || e.Reason == ValidationTooManyPages
}

type FailureCause string

const (
	CauseCorrupt   FailureCause = "corrupt"
	CauseTimeout   FailureCause = "timeout"
	CauseResource  FailureCause = "resource"
	CausePageLimit FailureCause = "page_limit"
	CauseUnknown   FailureCause = "unknown"
)

// ParseFailure is a document or payload that could not be parsed. Never retried.
type ParseFailure struct {
	Cause FailureCause
	Err   error
}

func (e *ParseFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("parse failed (%s)", e.Cause)
	}
	return fmt.Sprintf("parse failed (%s): %v", e.Cause, e.Err)
}

func (e *ParseFailure) Unwrap() error { return e.Err }

func (e *ParseFailure) Is(target error) bool {
	return target == ErrParse || (e.Cause == CauseTimeout && target == ErrTimeout)
}

type ConsistencyError struct {
	DocumentID string
	Expected   int
	Got        int
}

func (e *ConsistencyError) Error() string {
	if e.DocumentID == "" {
		return fmt.Sprintf("embedding count %d does not match input count %d", e.Got, e.Expected)
	}
	return fmt.Sprintf("document %s: embedding count %d does not match chunk count %d", e.DocumentID, e.Got, e.Expected)
}

func (e *ConsistencyError) Is(target error) bool { return target == ErrConsistency }

// Retryable reports whether a caller-level retry could change the result.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrParse) &&
		!errors.Is(err, ErrValidation) &&
		!errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrConsistency)
}

// Kind names the taxonomy class of err for logs, metrics and Temporal error types.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrParse):
		return "ParseError"
	case errors.Is(err, ErrConsistency):
		return "ConsistencyError"
	case errors.Is(err, ErrNotFound):
		return "NotFoundError"
	case errors.Is(err, ErrTransport), errors.Is(err, ErrTimeout):
		return "TransportError"
	case errors.Is(err, ErrStorageUnavailable):
		return "StorageUnavailable"
	default:
		return "Error"
	}
}
