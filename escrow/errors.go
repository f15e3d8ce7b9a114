package escrow

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotYetDeposited is returned by queries that need at least one deposit or
// bid on record.
var ErrNotYetDeposited = errors.New("escrow: not yet deposited")

// AccessDeniedError reports a caller that does not hold the role an operation
// requires. Expected names the required identity or role, Got the caller.
type AccessDeniedError struct {
	Op       string
	Expected string
	Got      string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("escrow: %s: access denied: expected %s, got %s", e.Op, e.Expected, e.Got)
}

// UnexpectedStatusError reports an operation invoked outside its valid status
// set. No field is mutated when it is returned.
type UnexpectedStatusError struct {
	Op       string
	Expected []Status
	Got      Status
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("escrow: %s: unexpected status: expected %v, got %s", e.Op, e.Expected, e.Got)
}

// InvalidDurationError reports a zero or negative duration parameter.
type InvalidDurationError struct {
	Field string
	Got   time.Duration
}

func (e *InvalidDurationError) Error() string {
	return fmt.Sprintf("escrow: invalid duration for %s: %s", e.Field, e.Got)
}

// InvalidAddressError reports an empty or malformed party identity.
type InvalidAddressError struct {
	Field string
	Got   string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("escrow: invalid address for %s: %q", e.Field, e.Got)
}

// InsufficientDepositError reports a deposit or fee below the required
// threshold. Required is the total the caller must reach, Got their running
// total after the attempted deposit.
type InsufficientDepositError struct {
	Required uint64
	Got      uint64
}

func (e *InsufficientDepositError) Error() string {
	return fmt.Sprintf("escrow: insufficient deposit: required %d, got %d", e.Required, e.Got)
}

// PastDeadlineError reports an operation attempted after its window closed.
type PastDeadlineError struct {
	Op       string
	Deadline time.Time
	Now      time.Time
}

func (e *PastDeadlineError) Error() string {
	return fmt.Sprintf("escrow: %s: past deadline %s (now %s)", e.Op, e.Deadline.UTC().Format(time.RFC3339), e.Now.UTC().Format(time.RFC3339))
}

// TooEarlyError reports an operation attempted before its window opened.
type TooEarlyError struct {
	Op        string
	NotBefore time.Time
	Now       time.Time
}

func (e *TooEarlyError) Error() string {
	return fmt.Sprintf("escrow: %s: too early, not before %s (now %s)", e.Op, e.NotBefore.UTC().Format(time.RFC3339), e.Now.UTC().Format(time.RFC3339))
}

// OverMaximumError reports a numeric parameter above its allowed maximum.
// Durations are reported in seconds under a *_seconds field name.
type OverMaximumError struct {
	Field string
	Max   uint64
	Got   uint64
}

func (e *OverMaximumError) Error() string {
	return fmt.Sprintf("escrow: %s over maximum: max %d, got %d", e.Field, e.Max, e.Got)
}

// BelowMinimumError reports a numeric parameter below its required minimum.
type BelowMinimumError struct {
	Field string
	Min   uint64
	Got   uint64
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("escrow: %s below minimum: min %d, got %d", e.Field, e.Min, e.Got)
}

// InvalidIndexError reports an out-of-range bid lookup or a dispute handle
// that does not match the one on record. Limit is the exclusive bid count or
// the recorded dispute id.
type InvalidIndexError struct {
	Got   uint64
	Limit uint64
}

func (e *InvalidIndexError) Error() string {
	return fmt.Sprintf("escrow: invalid index %d (limit %d)", e.Got, e.Limit)
}
