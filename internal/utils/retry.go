// Package utils holds small helpers shared by the exporter packages.
package utils

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"
)

// DefaultDelays is the backoff schedule between attempts: 1s, 3s and 5s.
var DefaultDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// WithRetry runs fn and retries it once per delay while it fails with a transient error.
// fn runs at most len(delays)+1 times. The context bounds the waits between attempts.
func WithRetry(ctx context.Context, delays []time.Duration, fn func() error) error {
	err := fn()
	for _, delay := range delays {
		if err == nil || !IsRetriable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if !sleepWithContext(ctx, delay) {
			return err
		}
		err = fn()
	}
	return err
}

type retriable interface {
	Retriable() bool
}

// IsRetriable reports whether err looks like a transient network failure.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var r retriable
	if errors.As(err, &r) {
		return r.Retriable()
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// *url.Error is a net.Error too, so only timeouts count here.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
