package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrTransient marks store errors that are expected to succeed on retry:
// lost connections, serialization failures, deadlocks and server restarts.
var ErrTransient = errors.New("transient store error")

// transientError wraps a store error so that errors.Is(err, ErrTransient)
// holds while the original cause stays reachable via errors.As.
type transientError struct {
	cause error
}

func (e *transientError) Error() string {
	return fmt.Sprintf("%s: %v", ErrTransient, e.cause)
}

func (e *transientError) Unwrap() []error {
	return []error{ErrTransient, e.cause}
}

// Classify wraps err with ErrTransient when it is retryable. Other errors,
// including nil, are returned unchanged.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	if IsTransient(err) {
		return &transientError{cause: err}
	}
	return err
}

// IsTransient reports whether err is a store error worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	// The caller gave up; retrying under the same context is pointless.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isTransientSQLState(pgErr.Code)
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// isTransientSQLState reports whether a SQLSTATE denotes a retryable condition.
func isTransientSQLState(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"): // connection exception
		return true
	case code == "40001", code == "40P01": // serialization failure, deadlock
		return true
	case code == "55P03": // lock not available
		return true
	case code == "57P01", code == "57P02", code == "57P03": // admin shutdown, crash shutdown, cannot connect now
		return true
	case code == "53300": // too many connections
		return true
	}
	return false
}
