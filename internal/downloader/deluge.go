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
	"sync/atomic"

	"bookbag/internal/config"
	"bookbag/internal/httpx"
)

// Deluge talks to the Deluge Web UI JSON-RPC endpoint.
type Deluge struct {
	cfg  config.Downloader
	http *httpx.Client
	seq  atomic.Int64

	mu     sync.Mutex
	cookie string
}

// NewDeluge constructs a Deluge adapter.
func NewDeluge(cfg config.Downloader, hc *httpx.Client) *Deluge {
	return &Deluge{cfg: cfg, http: hc}
}

func (d *Deluge) Name() string                     { return "Deluge" }
func (d *Deluge) Protocol() Protocol               { return ProtocolTorrent }
func (d *Deluge) IsSeedingState(state string) bool { return IsSeedingState(state) }
func (d *Deluge) Validate() error                  { return validateHostPort(d.Name(), d.cfg) }

type delugeResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// delugeAuthCode is the Web UI's "Not authenticated" error code.
const delugeAuthCode = 1

func (d *Deluge) rpc(ctx context.Context, cookie, method string, params []any) (*httpx.Response, *delugeResponse, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(map[string]any{"method": method, "params": params, "id": d.seq.Add(1)})
	if err != nil {
		return nil, nil, err
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if cookie != "" {
		headers["Cookie"] = cookie
	}
	resp, err := d.http.Do(ctx, httpx.Request{Method: http.MethodPost, URL: baseURL(d.cfg) + "/json", Body: body, Headers: headers})
	if err != nil {
		return nil, nil, err
	}
	var envelope delugeResponse
	if err := httpx.DecodeJSON(resp, &envelope); err != nil {
		return nil, nil, err
	}
	return resp, &envelope, nil
}

func (d *Deluge) login(ctx context.Context) (string, error) {
	resp, envelope, err := d.rpc(ctx, "", "auth.login", []any{d.cfg.Password})
	if err != nil {
		return "", err
	}
	var ok bool
	_ = json.Unmarshal(envelope.Result, &ok)
	if !ok {
		return "", &ValidationError{Message: "Deluge login failed, check password"}
	}
	for _, c := range resp.Cookies() {
		if c.Name == "_session_id" {
			return c.Name + "=" + c.Value, nil
		}
	}
	return "", nil
}

func (d *Deluge) call(ctx context.Context, method string, out any, params ...any) error {
	for attempt := 0; attempt < 2; attempt++ {
		d.mu.Lock()
		cookie := d.cookie
		d.mu.Unlock()
		if cookie == "" || attempt > 0 {
			fresh, err := d.login(ctx)
			if err != nil {
				return err
			}
			d.mu.Lock()
			d.cookie = fresh
			d.mu.Unlock()
			cookie = fresh
		}
		resp, envelope, err := d.rpc(ctx, cookie, method, params)
		if err != nil {
			return err
		}
		if envelope.Error != nil {
			if envelope.Error.Code == delugeAuthCode && attempt == 0 {
				continue
			}
			return fmt.Errorf("deluge %s: %s", method, envelope.Error.Message)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return &httpx.MalformedError{URL: httpx.Redact(resp.URL), Format: "json", Err: err}
		}
		return nil
	}
	return errors.New("deluge: session rejected")
}

// Submit adds a magnet, a torrent URL, or Data as a torrent file. Deluge
// returns the info hash.
func (d *Deluge) Submit(ctx context.Context, job Job) (string, error) {
	options := map[string]any{}
	if d.cfg.Directory != "" {
		options["download_location"] = d.cfg.Directory
	}
	var (
		hash *string
		err  error
	)
	switch {
	case len(job.Data) > 0:
		err = d.call(ctx, "core.add_torrent_file", &hash, job.Title+".torrent", base64.StdEncoding.EncodeToString(job.Data), options)
	case strings.HasPrefix(job.URL, "magnet:"):
		err = d.call(ctx, "core.add_torrent_magnet", &hash, job.URL, options)
	case job.URL != "":
		err = d.call(ctx, "core.add_torrent_url", &hash, job.URL, options)
	default:
		return "", submitError(d.Name(), errors.New("torrent url is required"))
	}
	if err != nil {
		return "", err
	}
	id := ""
	if hash != nil {
		id = strings.ToLower(*hash)
	}
	if id == "" {
		id = strings.ToLower(job.Hash)
	}
	if id == "" {
		id = MagnetHash(job.URL)
	}
	if id == "" {
		return "", submitError(d.Name(), errors.New("torrent was not added"))
	}
	if cat := categoryFor(job, d.cfg); cat != "" {
		// The label plugin may be disabled; a missing label is not fatal.
		_ = d.call(ctx, "label.set_torrent", nil, id, strings.ToLower(cat))
	}
	return id, nil
}

type delugeStatus struct {
	Progress float64 `json:"progress"`
	State    string  `json:"state"`
	SavePath string  `json:"save_path"`
	Name     string  `json:"name"`
}

func (d *Deluge) status(ctx context.Context, hash string) (*delugeStatus, error) {
	var status *delugeStatus
	err := d.call(ctx, "core.get_torrent_status", &status, strings.ToLower(hash), []string{"progress", "state", "save_path", "name"})
	if err != nil {
		return nil, err
	}
	if status == nil || status.State == "" {
		return nil, nil
	}
	return status, nil
}

// Progress reports percent done and the Deluge state.
func (d *Deluge) Progress(ctx context.Context, id string) (int, string, error) {
	status, err := d.status(ctx, id)
	if err != nil {
		return 0, "", err
	}
	if status == nil {
		return -1, "", nil
	}
	state := strings.ToLower(status.State)
	if state == "error" {
		return int(status.Progress), StateFailed, nil
	}
	return int(status.Progress), state, nil
}

// Folder returns save_path joined with the torrent name.
func (d *Deluge) Folder(ctx context.Context, id string) (string, error) {
	status, err := d.status(ctx, id)
	if err != nil || status == nil {
		return "", err
	}
	return path.Join(status.SavePath, status.Name), nil
}

// Remove deletes the torrent, optionally with its data.
func (d *Deluge) Remove(ctx context.Context, id string, deleteData bool) (bool, error) {
	var removed bool
	if err := d.call(ctx, "core.remove_torrent", &removed, strings.ToLower(id), deleteData); err != nil {
		return false, err
	}
	return removed, nil
}
