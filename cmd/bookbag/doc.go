// Package main hosts the bookbag CLI.
//
// Commands talk to the daemon over its JSON-RPC socket for everything that
// touches pipeline state (items, wanted entries, the blacklist, unmatched
// library files, scheduled jobs). Configuration commands work offline against
// the TOML file. `bookbag start` launches the daemon in the background by
// re-running this binary with the hidden `daemon` subcommand.
package main
