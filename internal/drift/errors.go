package drift

import (
	"errors"
	"fmt"
	"time"
)

// ValidationCode categorizes rejected ingestion input.
type ValidationCode string

const (
	CodePayloadTooLarge ValidationCode = "payload_too_large"
	CodeInvalidJSON     ValidationCode = "invalid_json"
	CodeNotAnObject     ValidationCode = "not_an_object"
	CodeInvalidEndpoint ValidationCode = "invalid_endpoint"
	CodeInvalidSource   ValidationCode = "invalid_source"
	CodeInvalidMetadata ValidationCode = "invalid_metadata"
)

// ValidationError reports caller input that can never succeed as sent.
// It is surfaced to the caller and never retried.
type ValidationError struct {
	Code    ValidationCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NotFoundError reports a referenced record that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// StorageError wraps a failure of the persistent store. It is treated as
// transient: the delta worker retries it, synchronous callers see it as is.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// QueueError wraps a failure to enqueue a delta job.
type QueueError struct {
	Err error
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("queue: %v", e.Err)
}

func (e *QueueError) Unwrap() error { return e.Err }

// RateLimitExceededError is returned when a tenant has used up its window.
type RateLimitExceededError struct {
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit of %d requests exceeded, resets at %s", e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPayloadTooLarge reports whether err is a ValidationError for an oversized payload.
func IsPayloadTooLarge(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code == CodePayloadTooLarge
	}
	return false
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsStorageError reports whether err wraps a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsQueueError reports whether err wraps a QueueError.
func IsQueueError(err error) bool {
	var qe *QueueError
	return errors.As(err, &qe)
}

// IsRateLimited reports whether err wraps a RateLimitExceededError.
func IsRateLimited(err error) bool {
	var rl *RateLimitExceededError
	return errors.As(err, &rl)
}
