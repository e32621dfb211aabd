package downloader

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"bookbag/internal/config"
	"bookbag/internal/services"
	"bookbag/internal/store"
)

// Protocol is the transport family a client handles.
type Protocol string

const (
	ProtocolUsenet  Protocol = "usenet"
	ProtocolTorrent Protocol = "torrent"
	ProtocolDirect  Protocol = "direct"
)

// ProtocolFor maps a result mode to the protocol that can fetch it.
func ProtocolFor(mode string) Protocol {
	switch mode {
	case store.ModeNZB:
		return ProtocolUsenet
	case store.ModeTorrent, store.ModeMagnet:
		return ProtocolTorrent
	default:
		return ProtocolDirect
	}
}

// States reported by Progress besides the client's own vocabulary.
const (
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Job describes one submission.
type Job struct {
	Title string
	URL   string
	// Data holds an already fetched NZB or torrent file.
	Data []byte
	Mode string
	// Hash is the lowercase torrent info hash when known.
	Hash     string
	Category string
}

// Client is the contract every download back-end implements.
type Client interface {
	Name() string
	Protocol() Protocol
	Validate() error
	Submit(ctx context.Context, job Job) (string, error)
	// Progress returns percent 0-100, or -1 when the job is unknown, and the
	// client's lowercased state.
	Progress(ctx context.Context, id string) (int, string, error)
	Remove(ctx context.Context, id string, deleteData bool) (bool, error)
	IsSeedingState(state string) bool
}

// FolderLocator is implemented by clients that report where a job's files landed.
type FolderLocator interface {
	Folder(ctx context.Context, id string) (string, error)
}

var seedingStates = map[string]struct{}{
	"uploading": {},
	"stalledup": {},
	"seeding":   {},
	"queuedup":  {},
}

// IsSeedingState reports whether a torrent state means the payload is complete
// and being seeded. Comparison ignores case and underscores.
func IsSeedingState(state string) bool {
	_, ok := seedingStates[strings.ReplaceAll(strings.ToLower(state), "_", "")]
	return ok
}

// ValidationError is returned by Validate. Its message is shown to operators verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == services.ErrConfiguration }

func validateHostPort(name string, cfg config.Downloader) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return &ValidationError{Message: fmt.Sprintf("Invalid %s host, check your config", name)}
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return &ValidationError{Message: fmt.Sprintf("Invalid %s port, check your config", name)}
	}
	return nil
}

// baseURL builds scheme://host:port[/base] from a downloader section. A host
// may carry its own scheme; plain hosts default to http.
func baseURL(cfg config.Downloader) string {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	scheme := "http"
	if idx := strings.Index(host, "://"); idx >= 0 {
		scheme = strings.ToLower(host[:idx])
		host = host[idx+3:]
	}
	if cfg.Port > 0 {
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		host = net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	}
	u := url.URL{Scheme: scheme, Host: host}
	if base := strings.Trim(strings.TrimSpace(cfg.BasePath), "/"); base != "" {
		u.Path = "/" + base
	}
	return u.String()
}

var btihPattern = regexp.MustCompile(`(?i)xt=urn:btih:([a-z0-9]+)`)

// MagnetHash extracts the info hash from a magnet link, lowercased.
func MagnetHash(link string) string {
	match := btihPattern.FindStringSubmatch(link)
	if len(match) < 2 {
		return ""
	}
	return strings.ToLower(match[1])
}

func categoryFor(job Job, cfg config.Downloader) string {
	if job.Category != "" {
		return job.Category
	}
	return cfg.Category
}

func submitError(name string, err error) error {
	return services.Wrap(services.ErrExternalTool, name, "submit", "client rejected download", err)
}
