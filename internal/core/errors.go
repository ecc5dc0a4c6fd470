package core

import (
	"errors"
	"fmt"
)

var (
	// ErrRunInProgress is returned by Start while another run is processing
	ErrRunInProgress = errors.New("a processing run is already in progress")
	// ErrClassificationFailed is returned once every classification attempt failed
	ErrClassificationFailed = errors.New("classification failed")
	// ErrRebuildNotConfirmed is returned when a destructive rebuild lacks confirmation
	ErrRebuildNotConfirmed = errors.New("similarity memory rebuild requires confirmation")
	// ErrUnknownProvider is returned when an account names a provider with no implementation
	ErrUnknownProvider = errors.New("unknown mail provider")
)

// TransientBackendError is a network or HTTP failure talking to an AI or mail backend
type TransientBackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *TransientBackendError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *TransientBackendError) Unwrap() error {
	return e.Err
}

// MalformedResponseError is an AI response that could not be turned into a valid score
type MalformedResponseError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed AI response: %s: %v", e.Reason, e.Err)
	}
	return "malformed AI response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// ProviderAuthError means the mail credentials for an account are invalid or expired
type ProviderAuthError struct {
	AccountID string
	Provider  ProviderType
	Err       error
}

func (e *ProviderAuthError) Error() string {
	if e.AccountID != "" {
		return fmt.Sprintf("authentication failed for %s account %s: %v", e.Provider, e.AccountID, e.Err)
	}
	return fmt.Sprintf("authentication failed for %s: %v", e.Provider, e.Err)
}

func (e *ProviderAuthError) Unwrap() error {
	return e.Err
}

// IsProviderAuthError reports whether err (or any error in its chain) is a ProviderAuthError
func IsProviderAuthError(err error) bool {
	var authErr *ProviderAuthError
	return errors.As(err, &authErr)
}

// SchemaMismatchError is raised when a vector width differs from the storage schema width
type SchemaMismatchError struct {
	Expected int
	Actual   int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: storage holds %d, got %d", e.Expected, e.Actual)
}

// ConfigurationError is a missing or invalid setting detected before any work starts
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %q: %s", e.Key, e.Reason)
}
