package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *StoreError
		want string
	}{
		{
			name: "s3 object",
			err:  &StoreError{Op: "PutObject", Store: ProviderS3, Location: "reports", Key: "2025/03/20/c.jsonl", Err: ErrAccessDenied},
			want: "archive s3 PutObject reports/2025/03/20/c.jsonl: access denied",
		},
		{
			name: "s3 bucket",
			err:  &StoreError{Op: "List", Store: ProviderS3, Location: "reports", Err: ErrBucketNotFound},
			want: "archive s3 List reports: bucket not found",
		},
		{
			name: "key only",
			err:  &StoreError{Op: "GetObject", Store: ProviderFile, Key: "a.jsonl", Err: ErrNotFound},
			want: "archive file GetObject a.jsonl: object not found",
		},
		{
			name: "no location",
			err:  &StoreError{Op: "New", Store: ProviderS3, Err: errors.New("no credentials")},
			want: "archive s3 New: no credentials",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestReason(t *testing.T) {
	wrapped := &StoreError{Op: "PutObject", Store: ProviderS3, Err: fmt.Errorf("%w: SlowDown", ErrThrottled)}
	assert.Equal(t, "throttled", Reason(wrapped))
	assert.Equal(t, "not_found", Reason(&StoreError{Err: ErrNotFound}))
	assert.Equal(t, "invalid_credentials", Reason(ErrInvalidCredentials))
	assert.Equal(t, "other", Reason(errors.New("disk full")))
	assert.Equal(t, "other", Reason(nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(&StoreError{Err: ErrThrottled}))
	assert.True(t, Retryable(&StoreError{Err: ErrUnavailable}))
	assert.False(t, Retryable(&StoreError{Err: ErrAccessDenied}))
	assert.False(t, Retryable(errors.New("boom")))
	assert.True(t, IsNotFound(&StoreError{Err: ErrNotFound}))
}
