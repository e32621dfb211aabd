package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"bookbag/internal/config"
	"bookbag/internal/httpx"
)

// SABnzbd talks to the SABnzbd JSON API.
type SABnzbd struct {
	cfg  config.Downloader
	http *httpx.Client
}

// NewSABnzbd constructs a SABnzbd adapter.
func NewSABnzbd(cfg config.Downloader, hc *httpx.Client) *SABnzbd {
	return &SABnzbd{cfg: cfg, http: hc}
}

func (s *SABnzbd) Name() string               { return "SABnzbd" }
func (s *SABnzbd) Protocol() Protocol         { return ProtocolUsenet }
func (s *SABnzbd) IsSeedingState(string) bool { return false }
func (s *SABnzbd) Validate() error            { return validateHostPort(s.Name(), s.cfg) }

func (s *SABnzbd) call(ctx context.Context, params url.Values, out any) error {
	params.Set("apikey", s.cfg.APIKey)
	params.Set("output", "json")
	resp, err := s.http.Do(ctx, httpx.Request{URL: baseURL(s.cfg) + "/api", Params: params})
	if err != nil {
		return err
	}
	var envelope struct {
		Error string `json:"error"`
	}
	if err := httpx.DecodeJSON(resp, &envelope); err != nil {
		return err
	}
	if envelope.Error != "" {
		return submitError(s.Name(), errors.New(envelope.Error))
	}
	return httpx.DecodeJSON(resp, out)
}

// Submit adds an NZB by URL and returns the nzo id.
func (s *SABnzbd) Submit(ctx context.Context, job Job) (string, error) {
	if job.URL == "" {
		return "", submitError(s.Name(), errors.New("nzb url is required"))
	}
	params := url.Values{
		"mode":    {"addurl"},
		"name":    {job.URL},
		"nzbname": {job.Title},
	}
	if cat := categoryFor(job, s.cfg); cat != "" {
		params.Set("cat", cat)
	}
	if s.cfg.Priority != 0 {
		params.Set("priority", strconv.Itoa(s.cfg.Priority))
	}
	var result struct {
		Status bool     `json:"status"`
		NzoIDs []string `json:"nzo_ids"`
	}
	if err := s.call(ctx, params, &result); err != nil {
		return "", err
	}
	if !result.Status || len(result.NzoIDs) == 0 {
		return "", submitError(s.Name(), errors.New("no job id returned"))
	}
	return result.NzoIDs[0], nil
}

type sabQueue struct {
	Queue struct {
		Slots []struct {
			NzoID      string `json:"nzo_id"`
			Percentage string `json:"percentage"`
			Status     string `json:"status"`
		} `json:"slots"`
	} `json:"queue"`
}

type sabHistory struct {
	History struct {
		Slots []struct {
			NzoID       string `json:"nzo_id"`
			Status      string `json:"status"`
			Storage     string `json:"storage"`
			FailMessage string `json:"fail_message"`
		} `json:"slots"`
	} `json:"history"`
}

// Progress checks the queue first, then history.
func (s *SABnzbd) Progress(ctx context.Context, id string) (int, string, error) {
	var queue sabQueue
	if err := s.call(ctx, url.Values{"mode": {"queue"}, "nzo_ids": {id}}, &queue); err != nil {
		return 0, "", err
	}
	for _, slot := range queue.Queue.Slots {
		if slot.NzoID == id {
			pct, _ := strconv.Atoi(strings.TrimSpace(slot.Percentage))
			return pct, strings.ToLower(slot.Status), nil
		}
	}

	var history sabHistory
	if err := s.call(ctx, url.Values{"mode": {"history"}, "nzo_ids": {id}}, &history); err != nil {
		return 0, "", err
	}
	for _, slot := range history.History.Slots {
		if slot.NzoID != id {
			continue
		}
		switch strings.ToLower(slot.Status) {
		case "completed":
			return 100, StateCompleted, nil
		case "failed":
			return 0, StateFailed, nil
		default:
			return 99, strings.ToLower(slot.Status), nil
		}
	}
	return -1, "", nil
}

// Folder returns the history storage path of a finished job.
func (s *SABnzbd) Folder(ctx context.Context, id string) (string, error) {
	var history sabHistory
	if err := s.call(ctx, url.Values{"mode": {"history"}, "nzo_ids": {id}}, &history); err != nil {
		return "", err
	}
	for _, slot := range history.History.Slots {
		if slot.NzoID == id {
			return slot.Storage, nil
		}
	}
	return "", nil
}

// Remove deletes the job from the queue, or from history when already finished.
func (s *SABnzbd) Remove(ctx context.Context, id string, deleteData bool) (bool, error) {
	delFiles := "0"
	if deleteData {
		delFiles = "1"
	}
	for _, mode := range []string{"queue", "history"} {
		var result struct {
			Status bool `json:"status"`
		}
		params := url.Values{"mode": {mode}, "name": {"delete"}, "value": {id}, "del_files": {delFiles}}
		if err := s.call(ctx, params, &result); err != nil {
			return false, fmt.Errorf("sabnzbd delete from %s: %w", mode, err)
		}
		if result.Status {
			return true, nil
		}
	}
	return false, nil
}
