package market

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupported marks a capability a provider does not implement.
	ErrUnsupported = errors.New("capability not supported")
	// ErrNoData is a valid empty result, not a failure.
	ErrNoData = errors.New("no data available")
	// ErrRateLimited marks a provider skipped by admission control.
	// It is a skip condition, never surfaced to callers.
	ErrRateLimited = errors.New("provider rate limited")
)

// HTTPError carries a provider-native HTTP failure status.
type HTTPError struct {
	Provider string
	Status   int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider %s: http status %d", e.Provider, e.Status)
}

// TimeoutError marks an attempt abandoned at its deadline.
type TimeoutError struct {
	Provider string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s: attempt timed out", e.Provider)
}

// Attempt records one failed provider try.
type Attempt struct {
	Provider string
	Err      error
}

// AllProvidersFailed is returned only when every provider attempt
// failed and no usable cache entry exists.
type AllProvidersFailed struct {
	Capability string
	Attempts   []Attempt
}

func (e *AllProvidersFailed) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Provider, a.Err))
	}
	return fmt.Sprintf("all providers failed for %s [%s]", e.Capability, strings.Join(parts, "; "))
}
