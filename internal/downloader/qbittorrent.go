package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"bookbag/internal/config"
	"bookbag/internal/httpx"
)

// QBittorrent talks to the qBittorrent Web API v2 with a cookie session.
type QBittorrent struct {
	cfg  config.Downloader
	http *httpx.Client

	mu  sync.Mutex
	sid string
}

// NewQBittorrent constructs a qBittorrent adapter.
func NewQBittorrent(cfg config.Downloader, hc *httpx.Client) *QBittorrent {
	return &QBittorrent{cfg: cfg, http: hc}
}

func (q *QBittorrent) Name() string                    { return "qBittorrent" }
func (q *QBittorrent) Protocol() Protocol              { return ProtocolTorrent }
func (q *QBittorrent) IsSeedingState(state string) bool { return IsSeedingState(state) }
func (q *QBittorrent) Validate() error                 { return validateHostPort(q.Name(), q.cfg) }

func (q *QBittorrent) login(ctx context.Context) (string, error) {
	form := url.Values{"username": {q.cfg.Username}, "password": {q.cfg.Password}}
	resp, err := q.http.Do(ctx, httpx.Request{
		Method:  http.MethodPost,
		URL:     baseURL(q.cfg) + "/api/v2/auth/login",
		Body:    []byte(form.Encode()),
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded", "Referer": baseURL(q.cfg)},
	})
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(strings.TrimSpace(string(resp.Body)), "Ok") {
		return "", &ValidationError{Message: "qBittorrent login failed, check username and password"}
	}
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "SID" {
			return cookie.Value, nil
		}
	}
	return "", nil
}

func (q *QBittorrent) session(ctx context.Context, refresh bool) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sid != "" && !refresh {
		return q.sid, nil
	}
	sid, err := q.login(ctx)
	if err != nil {
		return "", err
	}
	q.sid = sid
	return sid, nil
}

// request sends an authenticated call, logging in again once on 403.
func (q *QBittorrent) request(ctx context.Context, req httpx.Request) (*httpx.Response, error) {
	req.URL = baseURL(q.cfg) + req.URL
	for attempt := 0; attempt < 2; attempt++ {
		sid, err := q.session(ctx, attempt > 0)
		if err != nil {
			return nil, err
		}
		if req.Headers == nil {
			req.Headers = map[string]string{}
		}
		req.Headers["Referer"] = baseURL(q.cfg)
		if sid != "" {
			req.Headers["Cookie"] = "SID=" + sid
		}
		resp, err := q.http.Do(ctx, req)
		var respErr *httpx.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusForbidden && attempt == 0 {
			continue
		}
		return resp, err
	}
	return nil, errors.New("qbittorrent: session rejected")
}

func (q *QBittorrent) postForm(ctx context.Context, path string, form url.Values) (*httpx.Response, error) {
	return q.request(ctx, httpx.Request{
		Method:  http.MethodPost,
		URL:     path,
		Body:    []byte(form.Encode()),
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
	})
}

// Submit adds a magnet or torrent URL, or uploads Data as a .torrent file.
// The returned id is the lowercase info hash.
func (q *QBittorrent) Submit(ctx context.Context, job Job) (string, error) {
	fields := map[string]string{}
	if cat := categoryFor(job, q.cfg); cat != "" {
		fields["category"] = cat
	}
	if q.cfg.Directory != "" {
		fields["savepath"] = q.cfg.Directory
	}

	var (
		resp *httpx.Response
		err  error
	)
	if len(job.Data) > 0 {
		body, contentType, buildErr := torrentUpload(job, fields)
		if buildErr != nil {
			return "", buildErr
		}
		resp, err = q.request(ctx, httpx.Request{
			Method:  http.MethodPost,
			URL:     "/api/v2/torrents/add",
			Body:    body,
			Headers: map[string]string{"Content-Type": contentType},
		})
	} else {
		if job.URL == "" {
			return "", submitError(q.Name(), errors.New("torrent url is required"))
		}
		form := url.Values{"urls": {job.URL}}
		for key, value := range fields {
			form.Set(key, value)
		}
		resp, err = q.postForm(ctx, "/api/v2/torrents/add", form)
	}
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(strings.TrimSpace(string(resp.Body)), "Fails") {
		return "", submitError(q.Name(), errors.New("torrent was not added"))
	}

	hash := strings.ToLower(job.Hash)
	if hash == "" {
		hash = MagnetHash(job.URL)
	}
	if hash == "" {
		hash, err = q.newestHash(ctx, fields["category"])
		if err != nil {
			return "", err
		}
	}
	if hash == "" {
		return "", submitError(q.Name(), errors.New("could not determine torrent hash"))
	}
	return hash, nil
}

func torrentUpload(job Job, fields map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("torrents", job.Title+".torrent")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(job.Data); err != nil {
		return nil, "", err
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

type qbitTorrent struct {
	Hash        string  `json:"hash"`
	Name        string  `json:"name"`
	Progress    float64 `json:"progress"`
	State       string  `json:"state"`
	SavePath    string  `json:"save_path"`
	ContentPath string  `json:"content_path"`
}

func (q *QBittorrent) info(ctx context.Context, params url.Values) ([]qbitTorrent, error) {
	resp, err := q.request(ctx, httpx.Request{URL: "/api/v2/torrents/info", Params: params})
	if err != nil {
		return nil, err
	}
	var torrents []qbitTorrent
	if err := httpx.DecodeJSON(resp, &torrents); err != nil {
		return nil, err
	}
	return torrents, nil
}

func (q *QBittorrent) newestHash(ctx context.Context, category string) (string, error) {
	params := url.Values{"sort": {"added_on"}, "reverse": {"true"}, "limit": {"1"}}
	if category != "" {
		params.Set("category", category)
	}
	torrents, err := q.info(ctx, params)
	if err != nil || len(torrents) == 0 {
		return "", err
	}
	return strings.ToLower(torrents[0].Hash), nil
}

func (q *QBittorrent) find(ctx context.Context, hash string) (*qbitTorrent, error) {
	torrents, err := q.info(ctx, url.Values{"hashes": {strings.ToLower(hash)}})
	if err != nil {
		return nil, err
	}
	for i := range torrents {
		if strings.EqualFold(torrents[i].Hash, hash) {
			return &torrents[i], nil
		}
	}
	return nil, nil
}

// Progress reports percent done and the qBittorrent state.
func (q *QBittorrent) Progress(ctx context.Context, id string) (int, string, error) {
	torrent, err := q.find(ctx, id)
	if err != nil {
		return 0, "", err
	}
	if torrent == nil {
		return -1, "", nil
	}
	state := strings.ToLower(torrent.State)
	if state == "error" || state == "missingfiles" {
		return int(torrent.Progress * 100), StateFailed, nil
	}
	return int(torrent.Progress * 100), state, nil
}

// Folder returns the torrent's content path.
func (q *QBittorrent) Folder(ctx context.Context, id string) (string, error) {
	torrent, err := q.find(ctx, id)
	if err != nil || torrent == nil {
		return "", err
	}
	if torrent.ContentPath != "" {
		return torrent.ContentPath, nil
	}
	return torrent.SavePath, nil
}

// Remove deletes the torrent, optionally with its data.
func (q *QBittorrent) Remove(ctx context.Context, id string, deleteData bool) (bool, error) {
	torrent, err := q.find(ctx, id)
	if err != nil {
		return false, err
	}
	if torrent == nil {
		return false, nil
	}
	form := url.Values{"hashes": {strings.ToLower(id)}, "deleteFiles": {fmt.Sprint(deleteData)}}
	if _, err := q.postForm(ctx, "/api/v2/torrents/delete", form); err != nil {
		return false, err
	}
	return true, nil
}
