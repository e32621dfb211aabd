// Package preflight verifies the environment bookbag runs in.
//
// The checks cover the data, download and library directories plus the
// configuration of each enabled download client. The daemon logs failures at
// startup; the CLI prints them in `bookbag status` and `bookbag config validate`.
package preflight
