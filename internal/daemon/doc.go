// Package daemon coordinates the long-running bookbag process.
//
// It wires configuration, the state store, the acquisition machine, the
// postprocess engine and the job scheduler into a single lifecycle with
// flock-based locking to prevent multiple instances. The daemon also exposes
// the operator actions the control socket serves: interactive search,
// wanted-list and blacklist maintenance, unmatched-file review and manual
// job triggers.
//
// Keep orchestration logic here: pipeline behaviour lives in its own packages
// while the daemon focuses on startup, shutdown, and high level coordination.
package daemon
