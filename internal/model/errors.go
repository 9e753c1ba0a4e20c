package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a referenced memory id does not exist.
var ErrNotFound = errors.New("memory not found")

// ValidationError reports malformed input. It is always surfaced
// synchronously and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// VersionConflictError reports an optimistic-concurrency mismatch on
// update. The caller is expected to re-read and retry; the store does not.
type VersionConflictError struct {
	ID       string
	Expected int
	Current  int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, current %d", e.ID, e.Expected, e.Current)
}

// IntegrityError reports a decryption or authentication failure. The read
// is aborted; no partial data is ever returned.
type IntegrityError struct {
	Op  string
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity failure during %s: %v", e.Op, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// CapacityError reports that a write cannot fit within the configured
// quota even after eviction.
type CapacityError struct {
	Bytes    int64
	MaxBytes int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("record of %d bytes exceeds storage budget of %d bytes", e.Bytes, e.MaxBytes)
}

const timeLayout = time.RFC3339Nano

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
