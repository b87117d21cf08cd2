package shared

import (
	"fmt"
	"time"
)

// RateLimitError indicates the vendor rejected a call for exceeding the plan
// rate limit. It is surfaced immediately so the caller may pause, never
// converted to empty data.
type RateLimitError struct {
	Endpoint   string
	Message    string
	RetryAfter time.Duration
}

// Error satisfies the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s: %s", e.Endpoint, e.Message)
}

// TimeoutError indicates a vendor call exceeded its deadline. Timeouts count
// as transient.
type TimeoutError struct {
	Endpoint string
	Timeout  time.Duration
}

// Error satisfies the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out on %s after %s", e.Endpoint, e.Timeout)
}

// TransientNetworkError indicates a retryable network or 5xx failure.
type TransientNetworkError struct {
	Endpoint string
	Message  string
	Attempt  int
}

// Error satisfies the error interface.
func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient failure on %s (attempt %d): %s", e.Endpoint, e.Attempt, e.Message)
}

// VendorAPIError indicates a structured non-retryable vendor failure.
type VendorAPIError struct {
	Endpoint   string
	Code       string
	Message    string
	RequestID  string
	Attempt    int
	DurationMs int64
}

// Error satisfies the error interface.
func (e *VendorAPIError) Error() string {
	return fmt.Sprintf("vendor error on %s: code %s: %s", e.Endpoint, e.Code, e.Message)
}

// InsufficientDataError indicates a fetch returned fewer candles than the
// minimum required for the requested range.
type InsufficientDataError struct {
	Timeframe Timeframe
	Got       int
	Need      int
	Context   string
}

// Error satisfies the error interface.
func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s (%s): got %d, need %d",
		e.Timeframe.String(), e.Context, e.Got, e.Need)
}

// LookaheadViolationError indicates a replay fetch returned a candle past the
// aligned as-of boundary.
type LookaheadViolationError struct {
	Timeframe Timeframe
	Timestamp int64
	Boundary  int64
}

// Error satisfies the error interface.
func (e *LookaheadViolationError) Error() string {
	return fmt.Sprintf("lookahead violation on %s: candle %d past boundary %d",
		e.Timeframe.String(), e.Timestamp, e.Boundary)
}

// StaleDataWarning indicates the latest candle for a timeframe is older than
// the allowed lag. The cycle continues with the snapshot marked stale.
type StaleDataWarning struct {
	Venue      Venue
	Timeframe  Timeframe
	AgeMinutes float64
}

// Error satisfies the error interface.
func (e *StaleDataWarning) Error() string {
	return fmt.Sprintf("stale data for %s %s: %.1f minutes old",
		e.Venue.String(), e.Timeframe.String(), e.AgeMinutes)
}

// ValidationError aggregates configuration validation violations.
type ValidationError struct {
	Violations []string
}

// Error satisfies the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed with %d violations: %v",
		len(e.Violations), e.Violations)
}

// VersionConflictError indicates an optimistic locking conflict on a config
// save.
type VersionConflictError struct {
	Expected string
	Actual   string
}

// Error satisfies the error interface.
func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("config version conflict: save based on %s but current is %s",
		e.Expected, e.Actual)
}

// StorageError indicates a persistence failure. Live cycles log it and
// continue; the next cycle reattempts.
type StorageError struct {
	Op      string
	Message string
}

// Error satisfies the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %s", e.Op, e.Message)
}

// ConfigMissingError indicates a required config path was absent and a
// fallback was applied.
type ConfigMissingError struct {
	Path     string
	Fallback string
}

// Error satisfies the error interface.
func (e *ConfigMissingError) Error() string {
	return fmt.Sprintf("config path %s missing, using fallback %s", e.Path, e.Fallback)
}
