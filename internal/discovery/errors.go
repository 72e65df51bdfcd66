package discovery

import (
	"context"
	"errors"
	"fmt"
)

// InvalidRequestError reports malformed input. No tier work is performed.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("discovery: invalid request: %s %s", e.Field, e.Reason)
}

// TierProviderError records one tier's failure. The engine logs it and
// treats the tier as contributing zero candidates.
type TierProviderError struct {
	Tier Tier
	Err  error
}

func (e *TierProviderError) Error() string {
	return fmt.Sprintf("discovery: tier %d: %v", e.Tier, e.Err)
}

func (e *TierProviderError) Unwrap() error { return e.Err }

// Timeout reports whether the tier ran out of time.
func (e *TierProviderError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// DiscoveryError is the only error surfaced from a discovery call once the
// request is valid: every invoked tier failed, or the call was cancelled.
type DiscoveryError struct {
	RequestID string
	Stage     Stage
	Err       error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery: request %s failed at %s: %v", e.RequestID, e.Stage, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was caused by a deadline, either the
// caller's or every tier's.
func (e *DiscoveryError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}
