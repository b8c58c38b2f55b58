package provider

import (
	"errors"
	"fmt"
)

// Failure classes for archive store operations. Stores wrap the
// underlying SDK or filesystem error into one of these.
var (
	ErrNotFound           = errors.New("object not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnavailable        = errors.New("store unavailable")
	ErrThrottled          = errors.New("request throttled")
)

// reasons maps each failure class to the label logged with archive errors.
var reasons = []struct {
	err    error
	reason string
}{
	{ErrNotFound, "not_found"},
	{ErrAccessDenied, "access_denied"},
	{ErrBucketNotFound, "bucket_not_found"},
	{ErrInvalidCredentials, "invalid_credentials"},
	{ErrUnavailable, "unavailable"},
	{ErrThrottled, "throttled"},
}

// StoreError records which archive operation failed and where.
type StoreError struct {
	Op    string
	Store ProviderType
	// Location is the bucket for S3 and the base directory for file stores.
	Location string
	// Key is relative to the store's prefix.
	Key string
	Err error
}

func (e *StoreError) Error() string {
	where := e.Location
	if e.Key != "" {
		if where != "" {
			where += "/"
		}
		where += e.Key
	}
	if where == "" {
		return fmt.Sprintf("archive %s %s: %v", e.Store, e.Op, e.Err)
	}
	return fmt.Sprintf("archive %s %s %s: %v", e.Store, e.Op, where, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the archived object is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Reason returns a short label for the failure class of err, or "other".
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "other"
}

// Retryable reports whether the failure is transient, so the upload may
// succeed on the next check.
func Retryable(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrUnavailable)
}
