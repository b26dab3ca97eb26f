// internal/core/errors.go
package core

import (
	"fmt"
	"strings"
)

// Common errors
var (
	ErrNoProviderAvailable  = fmt.Errorf("no provider available")
	ErrAdapterTimeout       = fmt.Errorf("adapter call timed out")
	ErrProviderUnreachable  = fmt.Errorf("provider unreachable")
	ErrQuotaExceeded        = fmt.Errorf("monthly quota exceeded")
	ErrNotFound             = fmt.Errorf("entity not found")
	ErrProviderNotActive    = fmt.Errorf("provider not active")
	ErrConfigurationInvalid = fmt.Errorf("configuration invalid")
)

// AdapterError wraps a backend-specific failure at the adapter boundary so
// nothing backend-typed leaks into the orchestration layer.
type AdapterError struct {
	Provider string
	Op       string
	Cause    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Provider, e.Op, e.Cause)
}

func (e *AdapterError) Unwrap() error { return e.Cause }

// WrapAdapterError converts a raw backend error into an AdapterError.
func WrapAdapterError(provider, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &AdapterError{Provider: provider, Op: op, Cause: cause}
}

// FailoverExhaustedError aggregates every cause collected while walking a
// failover chain, not just the last hop's.
type FailoverExhaustedError struct {
	Causes []error
}

func (e *FailoverExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Causes))
	for _, c := range e.Causes {
		parts = append(parts, c.Error())
	}
	return fmt.Sprintf("failover chain exhausted after %d attempts: %s",
		len(e.Causes), strings.Join(parts, "; "))
}

func (e *FailoverExhaustedError) Unwrap() []error { return e.Causes }
