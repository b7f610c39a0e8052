package drift_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"drift-go/internal/drift"
)

func TestErrorHelpers(t *testing.T) {
	base := errors.New("database is locked")
	tests := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"validation", &drift.ValidationError{Code: drift.CodeInvalidJSON, Message: "x"}, drift.IsValidationError},
		{"payload too large", &drift.ValidationError{Code: drift.CodePayloadTooLarge}, drift.IsPayloadTooLarge},
		{"not found", &drift.NotFoundError{Kind: "snapshot", ID: "s-1"}, drift.IsNotFound},
		{"storage", &drift.StorageError{Op: "get", Err: base}, drift.IsStorageError},
		{"queue", &drift.QueueError{Err: base}, drift.IsQueueError},
		{"rate limited", &drift.RateLimitExceededError{Limit: 1}, drift.IsRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.is(tt.err))
			assert.True(t, tt.is(fmt.Errorf("wrapped: %w", tt.err)), "helpers see through wrapping")
			assert.False(t, tt.is(base))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "snapshot not found: s-1", (&drift.NotFoundError{Kind: "snapshot", ID: "s-1"}).Error())
	assert.Equal(t, "payload_too_large: too big", (&drift.ValidationError{Code: drift.CodePayloadTooLarge, Message: "too big"}).Error())

	reset := time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)
	assert.Equal(t, "rate limit of 100 requests exceeded, resets at 2024-01-15T11:00:00Z",
		(&drift.RateLimitExceededError{Limit: 100, ResetAt: reset}).Error())

	base := errors.New("locked")
	assert.ErrorIs(t, &drift.StorageError{Op: "x", Err: base}, base)
	assert.ErrorIs(t, &drift.QueueError{Err: base}, base)
	assert.False(t, drift.IsPayloadTooLarge(&drift.ValidationError{Code: drift.CodeInvalidJSON}))
}

func TestParseSource(t *testing.T) {
	for _, s := range []string{"sdk", "webhook", "polling"} {
		got, err := drift.ParseSource(s)
		assert.NoError(t, err)
		assert.Equal(t, drift.Source(s), got)
	}
	_, err := drift.ParseSource("SDK")
	assert.Error(t, err)
}
