// Package daemonctl starts and stops the bookbag daemon from the CLI.
package daemonctl
