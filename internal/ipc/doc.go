// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management, the request/response DTOs, and the
// conversions between store records and their wire representations. Errors
// cross the socket as plain strings.
package ipc
