// Package time provides the wall clock used across the coordinator.
// Importers alias it, e.g. mtime "github.com/zkmpc/maestro/time".
package time

import "time"

// Now returns the current time. It is a variable so tests that need a
// frozen or stepped clock can swap it out.
var Now = time.Now

// NowMillis returns Now in Unix milliseconds, the timestamp unit of every
// record-store document.
func NowMillis() int64 {
	return Now().UnixMilli()
}

// Millis converts t to Unix milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
