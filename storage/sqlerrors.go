package storage

import (
	"context"
	"strings"
	"time"

	"github.com/opencampus/coursebase/tools"
)

// Lock retry configuration.
var (
	lockRetryIntervals = []time.Duration{
		50 * time.Millisecond,
		100 * time.Millisecond,
		150 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
		1000 * time.Millisecond,
	}
	maxLockRetries = 12
)

// mapSQLError translates driver errors into typed sentinels. SQLite reports
// constraint failures only through the error message, so this is the single
// place that string-matches them.
func mapSQLError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"),
		strings.Contains(msg, "PRIMARY KEY constraint failed"):
		return tools.ErrUniqueViolation
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return tools.ErrForeignKeyViolation
	case strings.Contains(msg, "NOT NULL constraint failed"):
		return tools.ErrNotNullViolation
	}
	return err
}

// isLockError checks if the error is a SQLite lock error.
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "table is locked")
}

// execWithRetry executes a function with retry logic for SQLite lock errors.
func execWithRetry(ctx context.Context, fn func() error) error {
	var err error

	for attempt := 0; attempt <= maxLockRetries; attempt++ {
		err = fn()

		if err == nil || !isLockError(err) {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		sleepIdx := attempt
		if sleepIdx >= len(lockRetryIntervals) {
			sleepIdx = len(lockRetryIntervals) - 1
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryIntervals[sleepIdx]):
		}
	}

	return err
}
