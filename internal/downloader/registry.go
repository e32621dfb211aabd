package downloader

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"bookbag/internal/config"
	"bookbag/internal/httpx"
	"bookbag/internal/logging"
	"bookbag/internal/services"
)

// Registry holds the enabled download clients in preference order.
type Registry struct {
	clients []Client
}

// NewRegistry builds a registry from clients in the given order.
func NewRegistry(clients ...Client) *Registry {
	return &Registry{clients: clients}
}

type prioritized struct {
	client   Client
	priority int
}

// FromConfig builds every enabled client, each behind a circuit breaker.
// Clients with a lower configured priority value are preferred; ties keep
// declaration order. Clients that fail validation are logged and skipped.
func FromConfig(cfg *config.Config, hc *httpx.Client, logger *slog.Logger) *Registry {
	logger = logging.NewComponentLogger(logger, "downloader")
	d := cfg.Downloaders
	var candidates []prioritized
	add := func(enabled bool, priority int, client Client) {
		if !enabled {
			return
		}
		if err := client.Validate(); err != nil {
			logging.WarnWithContext(logger, "download client disabled", "downloader_invalid_config",
				logging.String(logging.FieldProvider, client.Name()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "fix the client section in the config file"),
				logging.String(logging.FieldImpact, "downloads will not be sent to this client"),
			)
			return
		}
		candidates = append(candidates, prioritized{client: WithBreaker(client, DefaultBreakerSettings, logger), priority: priority})
	}
	add(d.SABnzbd.Enabled, d.SABnzbd.Priority, NewSABnzbd(d.SABnzbd, hc))
	add(d.NZBGet.Enabled, d.NZBGet.Priority, NewNZBGet(d.NZBGet, hc))
	add(d.QBittorrent.Enabled, d.QBittorrent.Priority, NewQBittorrent(d.QBittorrent, hc))
	add(d.Transmission.Enabled, d.Transmission.Priority, NewTransmission(d.Transmission, hc))
	add(d.Deluge.Enabled, d.Deluge.Priority, NewDeluge(d.Deluge, hc))
	if d.Blackhole.Enabled {
		if strings.TrimSpace(d.Blackhole.NZBDir) != "" {
			add(true, 100, NewBlackhole(ProtocolUsenet, d.Blackhole.NZBDir, hc))
		}
		if strings.TrimSpace(d.Blackhole.TorrentDir) != "" {
			add(true, 100, NewBlackhole(ProtocolTorrent, d.Blackhole.TorrentDir, hc))
		}
	}
	add(strings.TrimSpace(cfg.Paths.DownloadDir) != "", 100, NewDirect(cfg.Paths.DownloadDir, hc))

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].priority < candidates[j].priority })
	clients := make([]Client, len(candidates))
	for i, c := range candidates {
		clients[i] = c.client
	}
	return NewRegistry(clients...)
}

// Clients returns every registered client.
func (r *Registry) Clients() []Client {
	if r == nil {
		return nil
	}
	return append([]Client(nil), r.clients...)
}

// ForMode returns the preferred client able to fetch a result of mode.
func (r *Registry) ForMode(mode string) (Client, error) {
	want := ProtocolFor(mode)
	for _, client := range r.Clients() {
		if client.Protocol() == want {
			return client, nil
		}
	}
	return nil, services.Wrap(services.ErrConfiguration, "downloader", "select", fmt.Sprintf("no %s download client configured", want), nil)
}

// Get returns the client registered under name, case-insensitively.
func (r *Registry) Get(name string) (Client, bool) {
	for _, client := range r.Clients() {
		if strings.EqualFold(client.Name(), name) {
			return client, true
		}
	}
	return nil, false
}
