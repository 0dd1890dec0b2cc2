//go:build !cgo

package store

import "strings"

// isTransient reports whether err is a retryable SQLite condition. Without
// cgo the mattn/go-sqlite3 error types are not compiled in (and its driver
// cannot produce them), so only the message heuristics apply.
func isTransient(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
