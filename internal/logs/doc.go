// Package logs reads the daemon log for `bookbag logs`.
//
// Last returns the trailing lines of a file with bounded memory, and Follow
// polls for appended lines, restarting when the bookbag.log pointer moves to
// a new run's file.
package logs
