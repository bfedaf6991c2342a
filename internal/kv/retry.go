package kv

import (
	"context"
	"strings"
	"time"
)

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
// This occurs when the database is locked by another connection.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
// This is another form of SQLite concurrency error.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError reports whether err is a SQLite concurrency error
// (SQLITE_BUSY or "database is locked") that warrants a retry.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

const (
	writeRetryAttempts = 3
	writeRetryDelay    = 50 * time.Millisecond
)

// retryOnConflict runs op, retrying a small fixed number of times when the
// failure is a SQLite concurrency conflict. Snapshot writes race the identity
// bootstrap goroutine on first launch, so busy errors here are expected.
func retryOnConflict(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < writeRetryAttempts; attempt++ {
		if err = op(); !IsSQLiteConflictError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(writeRetryDelay):
		}
	}
	return err
}
