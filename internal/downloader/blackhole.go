package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"bookbag/internal/fileutil"
	"bookbag/internal/httpx"
	"bookbag/internal/store"
	"bookbag/internal/textutil"
)

// Blackhole drops NZB or torrent payloads into a watch directory for a
// client bookbag does not talk to. It cannot report progress; completed
// downloads are found by the download-directory sweep.
type Blackhole struct {
	protocol Protocol
	dir      string
	http     *httpx.Client
}

// NewBlackhole constructs a blackhole for protocol writing into dir.
func NewBlackhole(protocol Protocol, dir string, hc *httpx.Client) *Blackhole {
	return &Blackhole{protocol: protocol, dir: dir, http: hc}
}

func (b *Blackhole) Name() string {
	if b.protocol == ProtocolUsenet {
		return "Blackhole NZB"
	}
	return "Blackhole Torrent"
}

func (b *Blackhole) Protocol() Protocol         { return b.protocol }
func (b *Blackhole) IsSeedingState(string) bool { return false }

func (b *Blackhole) Validate() error {
	if strings.TrimSpace(b.dir) == "" {
		return &ValidationError{Message: fmt.Sprintf("Invalid %s directory, check your config", b.Name())}
	}
	return nil
}

// Submit writes the payload and returns a generated job id.
func (b *Blackhole) Submit(ctx context.Context, job Job) (string, error) {
	if err := fileutil.CheckWritable(b.dir); err != nil {
		return "", &ValidationError{Message: fmt.Sprintf("Invalid %s directory, check your config: %v", b.Name(), err)}
	}
	name := textutil.SanitizeFileName(job.Title)
	if name == "" {
		name = "download"
	}

	var (
		data []byte
		ext  string
	)
	switch {
	case job.Mode == store.ModeMagnet || strings.HasPrefix(job.URL, "magnet:"):
		data, ext = []byte(job.URL), ".magnet"
	case len(job.Data) > 0:
		data = job.Data
	case job.URL != "":
		resp, err := b.http.Do(ctx, httpx.Request{URL: job.URL})
		if err != nil {
			return "", err
		}
		data = resp.Body
	default:
		return "", submitError(b.Name(), errors.New("nothing to write"))
	}
	if ext == "" {
		ext = ".torrent"
		if b.protocol == ProtocolUsenet {
			ext = ".nzb"
		}
	}

	target := fileutil.UniquePath(filepath.Join(b.dir, name+ext))
	if err := fileutil.WriteFileAtomic(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	return uuid.NewString(), nil
}

func (b *Blackhole) Progress(context.Context, string) (int, string, error) { return -1, "", nil }

func (b *Blackhole) Remove(context.Context, string, bool) (bool, error) { return false, nil }

// Direct fetches a file from a direct-download link into its own folder under
// the download directory. The job id is that folder's name.
type Direct struct {
	dir  string
	http *httpx.Client
}

// NewDirect constructs the direct-download client.
func NewDirect(downloadDir string, hc *httpx.Client) *Direct {
	return &Direct{dir: downloadDir, http: hc}
}

func (d *Direct) Name() string               { return "Direct" }
func (d *Direct) Protocol() Protocol         { return ProtocolDirect }
func (d *Direct) IsSeedingState(string) bool { return false }

func (d *Direct) Validate() error {
	if strings.TrimSpace(d.dir) == "" {
		return &ValidationError{Message: "Invalid download directory, check your config"}
	}
	return nil
}

// Submit downloads the file synchronously.
func (d *Direct) Submit(ctx context.Context, job Job) (string, error) {
	if job.URL == "" {
		return "", submitError(d.Name(), errors.New("download url is required"))
	}
	resp, err := d.http.Do(ctx, httpx.Request{URL: job.URL})
	if err != nil {
		return "", err
	}
	if len(resp.Body) == 0 {
		return "", submitError(d.Name(), errors.New("empty download"))
	}
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/html") {
		return "", submitError(d.Name(), errors.New("link returned a web page, not a file"))
	}

	name := textutil.SanitizeFileName(job.Title)
	if name == "" {
		name = "download"
	}
	folder := filepath.Base(fileutil.UniquePath(filepath.Join(d.dir, name)))
	fileName := textutil.SanitizeFileName(directFileName(resp, job.URL))
	if fileName == "" {
		fileName = folder
	}
	target := filepath.Join(d.dir, folder, fileName)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Dir(target), err)
	}
	if err := fileutil.WriteFileAtomic(target, resp.Body, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	return folder, nil
}

func directFileName(resp *httpx.Response, link string) string {
	if disposition := resp.Header.Get("Content-Disposition"); disposition != "" {
		for _, part := range strings.Split(disposition, ";") {
			part = strings.TrimSpace(part)
			if value, ok := strings.CutPrefix(part, "filename="); ok {
				return strings.Trim(value, `"`)
			}
		}
	}
	if idx := strings.IndexAny(link, "?#"); idx >= 0 {
		link = link[:idx]
	}
	return filepath.Base(link)
}

// Progress reports 100 once the folder exists.
func (d *Direct) Progress(_ context.Context, id string) (int, string, error) {
	if _, err := os.Stat(filepath.Join(d.dir, id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return -1, "", nil
		}
		return 0, "", err
	}
	return 100, StateCompleted, nil
}

// Folder returns the download folder for id.
func (d *Direct) Folder(_ context.Context, id string) (string, error) {
	return filepath.Join(d.dir, id), nil
}

// Remove deletes the folder when deleteData is set.
func (d *Direct) Remove(_ context.Context, id string, deleteData bool) (bool, error) {
	if !deleteData || id == "" {
		return false, nil
	}
	if err := os.RemoveAll(filepath.Join(d.dir, id)); err != nil {
		return false, err
	}
	return true, nil
}
