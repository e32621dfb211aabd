package preflight

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"bookbag/internal/config"
	"bookbag/internal/downloader"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll checks the working directories and every enabled download client.
// Audio checks are skipped when no audio library is configured.
func RunAll(_ context.Context, cfg *config.Config, clients *downloader.Registry) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Download directory", cfg.Paths.DownloadDir),
		CheckDirectoryAccess("Ebook library", cfg.Paths.EbookDir),
	}
	if cfg.Paths.AudioDir != "" {
		results = append(results, CheckDirectoryAccess("Audiobook library", cfg.Paths.AudioDir))
	}
	return append(results, CheckClients(clients)...)
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if path == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckClients validates the configuration of each registered download client.
func CheckClients(clients *downloader.Registry) []Result {
	if clients == nil {
		return nil
	}
	list := clients.Clients()
	if len(list) == 0 {
		return []Result{{Name: "Download clients", Detail: "none enabled"}}
	}
	results := make([]Result, 0, len(list))
	for _, client := range list {
		name := fmt.Sprintf("Client %s", client.Name())
		if err := client.Validate(); err != nil {
			results = append(results, Result{Name: name, Detail: err.Error()})
			continue
		}
		results = append(results, Result{Name: name, Passed: true, Detail: string(client.Protocol())})
	}
	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
