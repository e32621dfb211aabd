package downloader

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"

	"bookbag/internal/config"
	"bookbag/internal/httpx"
)

const transmissionSessionHeader = "X-Transmission-Session-Id"

// Transmission talks to the Transmission RPC endpoint. The server answers the
// first call with 409 and a session id that must be echoed on every request.
type Transmission struct {
	cfg  config.Downloader
	http *httpx.Client

	mu        sync.Mutex
	sessionID string
}

// NewTransmission constructs a Transmission adapter.
func NewTransmission(cfg config.Downloader, hc *httpx.Client) *Transmission {
	return &Transmission{cfg: cfg, http: hc}
}

func (t *Transmission) Name() string                     { return "Transmission" }
func (t *Transmission) Protocol() Protocol               { return ProtocolTorrent }
func (t *Transmission) IsSeedingState(state string) bool { return IsSeedingState(state) }
func (t *Transmission) Validate() error                  { return validateHostPort(t.Name(), t.cfg) }

func (t *Transmission) endpoint() string {
	base := baseURL(t.cfg)
	if strings.TrimSpace(t.cfg.BasePath) == "" {
		return base + "/transmission/rpc"
	}
	return base + "/rpc"
}

func (t *Transmission) call(ctx context.Context, method string, args map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"method": method, "arguments": args})
	if err != nil {
		return err
	}
	for attempt := 0; attempt < 2; attempt++ {
		t.mu.Lock()
		session := t.sessionID
		t.mu.Unlock()

		headers := map[string]string{"Content-Type": "application/json"}
		if session != "" {
			headers[transmissionSessionHeader] = session
		}
		if t.cfg.Username != "" || t.cfg.Password != "" {
			headers["Authorization"] = httpx.BasicAuth(t.cfg.Username, t.cfg.Password)
		}
		resp, err := t.http.Do(ctx, httpx.Request{Method: http.MethodPost, URL: t.endpoint(), Body: body, Headers: headers})
		var respErr *httpx.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict && attempt == 0 {
			t.mu.Lock()
			t.sessionID = respErr.Header.Get(transmissionSessionHeader)
			t.mu.Unlock()
			continue
		}
		if err != nil {
			return err
		}
		var envelope struct {
			Result    string          `json:"result"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := httpx.DecodeJSON(resp, &envelope); err != nil {
			return err
		}
		if envelope.Result != "success" {
			return fmt.Errorf("transmission %s: %s", method, envelope.Result)
		}
		if out == nil || len(envelope.Arguments) == 0 {
			return nil
		}
		if err := json.Unmarshal(envelope.Arguments, out); err != nil {
			return &httpx.MalformedError{URL: httpx.Redact(resp.URL), Format: "json", Err: err}
		}
		return nil
	}
	return errors.New("transmission: session id rejected")
}

type transmissionAdded struct {
	HashString string `json:"hashString"`
	Name       string `json:"name"`
}

// Submit adds a magnet or torrent URL, or Data as metainfo.
func (t *Transmission) Submit(ctx context.Context, job Job) (string, error) {
	args := map[string]any{}
	switch {
	case len(job.Data) > 0:
		args["metainfo"] = base64.StdEncoding.EncodeToString(job.Data)
	case job.URL != "":
		args["filename"] = job.URL
	default:
		return "", submitError(t.Name(), errors.New("torrent url is required"))
	}
	if t.cfg.Directory != "" {
		args["download-dir"] = t.cfg.Directory
	}
	if cat := categoryFor(job, t.cfg); cat != "" {
		args["labels"] = []string{cat}
	}
	var result struct {
		Added     *transmissionAdded `json:"torrent-added"`
		Duplicate *transmissionAdded `json:"torrent-duplicate"`
	}
	if err := t.call(ctx, "torrent-add", args, &result); err != nil {
		return "", err
	}
	added := result.Added
	if added == nil {
		added = result.Duplicate
	}
	if added == nil || added.HashString == "" {
		return "", submitError(t.Name(), errors.New("no torrent returned"))
	}
	return strings.ToLower(added.HashString), nil
}

type transmissionTorrent struct {
	HashString  string  `json:"hashString"`
	PercentDone float64 `json:"percentDone"`
	Status      int     `json:"status"`
	Error       int     `json:"error"`
	DownloadDir string  `json:"downloadDir"`
	Name        string  `json:"name"`
}

// transmissionStates maps RPC status codes to names in the shared seeding vocabulary.
var transmissionStates = map[int]string{
	0: "stopped",
	1: "check_wait",
	2: "checking",
	3: "download_wait",
	4: "downloading",
	5: "queued_up",
	6: "seeding",
}

func (t *Transmission) find(ctx context.Context, hash string) (*transmissionTorrent, error) {
	var result struct {
		Torrents []transmissionTorrent `json:"torrents"`
	}
	args := map[string]any{
		"ids":    []string{strings.ToLower(hash)},
		"fields": []string{"hashString", "percentDone", "status", "error", "downloadDir", "name"},
	}
	if err := t.call(ctx, "torrent-get", args, &result); err != nil {
		return nil, err
	}
	for i := range result.Torrents {
		if strings.EqualFold(result.Torrents[i].HashString, hash) {
			return &result.Torrents[i], nil
		}
	}
	return nil, nil
}

// Progress reports percent done and a named state.
func (t *Transmission) Progress(ctx context.Context, id string) (int, string, error) {
	torrent, err := t.find(ctx, id)
	if err != nil {
		return 0, "", err
	}
	if torrent == nil {
		return -1, "", nil
	}
	pct := int(torrent.PercentDone * 100)
	if torrent.Error != 0 {
		return pct, StateFailed, nil
	}
	state, ok := transmissionStates[torrent.Status]
	if !ok {
		state = fmt.Sprintf("status_%d", torrent.Status)
	}
	return pct, state, nil
}

// Folder returns the torrent's download directory joined with its name.
func (t *Transmission) Folder(ctx context.Context, id string) (string, error) {
	torrent, err := t.find(ctx, id)
	if err != nil || torrent == nil {
		return "", err
	}
	return path.Join(torrent.DownloadDir, torrent.Name), nil
}

// Remove deletes the torrent, optionally with its data.
func (t *Transmission) Remove(ctx context.Context, id string, deleteData bool) (bool, error) {
	torrent, err := t.find(ctx, id)
	if err != nil {
		return false, err
	}
	if torrent == nil {
		return false, nil
	}
	args := map[string]any{"ids": []string{strings.ToLower(id)}, "delete-local-data": deleteData}
	if err := t.call(ctx, "torrent-remove", args, nil); err != nil {
		return false, err
	}
	return true, nil
}
