// Package rawlog is the append-only raw sample log.
//
// Each metric source owns one line-oriented file. A line is one record:
//
//	[2024-05-01 12:00:00] {"timestamp":1714564800,"latency":12.4,"success":true}
//
// The datetime prefix is for people reading the file with tail or less; the
// reader accepts bare JSON lines too. Writers append whole batches under an
// exclusive file lock, so records from concurrent processes never interleave
// mid-line. Rotation rewrites the survivors to a temporary file and renames it
// into place, so a crash never truncates data that should have been kept.
package rawlog
