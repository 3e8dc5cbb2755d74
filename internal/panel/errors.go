package panel

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired is reported when the panel keeps rejecting a freshly established session.
	ErrSessionExpired   = errors.New("session expired")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrLoginFailed      = errors.New("login failed")
)

// AuthError means the panel refused the credentials or re-authentication was exhausted.
// It fails the whole collection cycle.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "auth: " + e.Reason
	}
	return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError is a failed request to the panel. VMID is empty for the VM list.
type FetchError struct {
	Op        string
	VMID      string
	Status    int
	Retryable bool
	Err       error
}

func (e *FetchError) Error() string {
	target := e.Op
	if e.VMID != "" {
		target = fmt.Sprintf("%s [vm=%s]", e.Op, e.VMID)
	}
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status=%d: %v", target, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", target, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsAuthError reports whether err carries an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

type transientStatusError int

func (e transientStatusError) Error() string   { return fmt.Sprintf("%v: %d", ErrUnexpectedStatus, int(e)) }
func (e transientStatusError) Retriable() bool { return true }
func (e transientStatusError) Unwrap() error   { return ErrUnexpectedStatus }
