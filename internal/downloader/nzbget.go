package downloader

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"bookbag/internal/config"
	"bookbag/internal/httpx"
)

// NZBGet talks to the NZBGet JSON-RPC endpoint.
type NZBGet struct {
	cfg  config.Downloader
	http *httpx.Client
}

// NewNZBGet constructs an NZBGet adapter.
func NewNZBGet(cfg config.Downloader, hc *httpx.Client) *NZBGet {
	return &NZBGet{cfg: cfg, http: hc}
}

func (n *NZBGet) Name() string               { return "NZBGet" }
func (n *NZBGet) Protocol() Protocol         { return ProtocolUsenet }
func (n *NZBGet) IsSeedingState(string) bool { return false }
func (n *NZBGet) Validate() error            { return validateHostPort(n.Name(), n.cfg) }

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	ID     int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (n *NZBGet) call(ctx context.Context, method string, out any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{Method: method, Params: params, ID: 1})
	if err != nil {
		return err
	}
	resp, err := n.http.Do(ctx, httpx.Request{
		Method: http.MethodPost,
		URL:    baseURL(n.cfg) + "/jsonrpc",
		Body:   body,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": httpx.BasicAuth(n.cfg.Username, n.cfg.Password),
		},
	})
	if err != nil {
		return err
	}
	var envelope rpcResponse
	if err := httpx.DecodeJSON(resp, &envelope); err != nil {
		return err
	}
	if envelope.Error != nil {
		return fmt.Errorf("nzbget %s: %s", method, envelope.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return &httpx.MalformedError{URL: httpx.Redact(resp.URL), Format: "json", Err: err}
	}
	return nil
}

// Submit appends an NZB by URL, or by content when Data is set.
func (n *NZBGet) Submit(ctx context.Context, job Job) (string, error) {
	content := job.URL
	if len(job.Data) > 0 {
		content = base64.StdEncoding.EncodeToString(job.Data)
	}
	if content == "" {
		return "", submitError(n.Name(), errors.New("nzb url or content is required"))
	}
	filename := job.Title
	if !strings.HasSuffix(strings.ToLower(filename), ".nzb") {
		filename += ".nzb"
	}
	var id int64
	err := n.call(ctx, "append", &id,
		filename, content, categoryFor(job, n.cfg), n.cfg.Priority,
		false, false, "", 0, "SCORE", []any{},
	)
	if err != nil {
		return "", err
	}
	if id <= 0 {
		return "", submitError(n.Name(), errors.New("append returned no job id"))
	}
	return strconv.FormatInt(id, 10), nil
}

type nzbgetGroup struct {
	NZBID           int64  `json:"NZBID"`
	FileSizeMB      int64  `json:"FileSizeMB"`
	RemainingSizeMB int64  `json:"RemainingSizeMB"`
	Status          string `json:"Status"`
}

type nzbgetHistory struct {
	NZBID   int64  `json:"NZBID"`
	Status  string `json:"Status"`
	DestDir string `json:"DestDir"`
}

func (n *NZBGet) history(ctx context.Context, id string) (*nzbgetHistory, error) {
	var items []nzbgetHistory
	if err := n.call(ctx, "history", &items, false); err != nil {
		return nil, err
	}
	for i := range items {
		if strconv.FormatInt(items[i].NZBID, 10) == id {
			return &items[i], nil
		}
	}
	return nil, nil
}

// Progress reads the active groups, then history.
func (n *NZBGet) Progress(ctx context.Context, id string) (int, string, error) {
	var groups []nzbgetGroup
	if err := n.call(ctx, "listgroups", &groups, 0); err != nil {
		return 0, "", err
	}
	for _, group := range groups {
		if strconv.FormatInt(group.NZBID, 10) != id {
			continue
		}
		pct := 0
		if group.FileSizeMB > 0 {
			pct = int((group.FileSizeMB - group.RemainingSizeMB) * 100 / group.FileSizeMB)
		}
		if pct >= 100 {
			pct = 99
		}
		return pct, strings.ToLower(group.Status), nil
	}

	item, err := n.history(ctx, id)
	if err != nil || item == nil {
		return -1, "", err
	}
	status := strings.ToUpper(item.Status)
	switch {
	case strings.HasPrefix(status, "SUCCESS"):
		return 100, StateCompleted, nil
	case strings.HasPrefix(status, "FAILURE"), strings.HasPrefix(status, "DELETED"):
		return 0, StateFailed, nil
	default:
		return 99, strings.ToLower(status), nil
	}
}

// Folder returns the destination directory of a finished job.
func (n *NZBGet) Folder(ctx context.Context, id string) (string, error) {
	item, err := n.history(ctx, id)
	if err != nil || item == nil {
		return "", err
	}
	return item.DestDir, nil
}

// Remove deletes a queued group, falling back to the history entry.
func (n *NZBGet) Remove(ctx context.Context, id string, deleteData bool) (bool, error) {
	nzbID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return false, fmt.Errorf("nzbget job id %q: %w", id, err)
	}
	queueCommand := "GroupDelete"
	historyCommand := "HistoryDelete"
	if deleteData {
		queueCommand = "GroupFinalDelete"
		historyCommand = "HistoryFinalDelete"
	}
	for _, command := range []string{queueCommand, historyCommand} {
		var ok bool
		if err := n.call(ctx, "editqueue", &ok, command, "", []int64{nzbID}); err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
