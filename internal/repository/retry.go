package repository

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// IsTransportError reports whether err looks like a broken connection
// rather than a SQL-level failure. Only these are worth retrying on a
// fresh connection.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection reset",
		"broken pipe",
		"connection refused",
		"unexpected eof",
		"tls:",
		"conn closed",
		"bad connection",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// withRetry runs fn under the store's backoff policy. A transport error
// resets the pool and retries after an exponential delay; SQL errors
// pass through untouched on the first attempt.
func (s *Store) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < s.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			s.log.Warn("db.transport_error",
				"op", op,
				"attempt", attempt,
				"error", err,
			)
			s.Reset()
			if sleepErr := s.retry.Sleep(ctx, attempt-1); sleepErr != nil {
				return sleepErr
			}
		}
		err = fn(ctx)
		if err == nil || !IsTransportError(err) {
			return err
		}
	}
	return err
}
