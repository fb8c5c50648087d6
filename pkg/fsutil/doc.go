// Package fsutil provides the advisory file locks and atomic replace used by
// every on-disk log in tinywatch.
//
// Locks are advisory and process-scoped (flock on Unix, LockFileEx on
// Windows); they coordinate cooperating writers, not arbitrary programs.
package fsutil
