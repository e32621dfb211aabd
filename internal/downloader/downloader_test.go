package downloader_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"bookbag/internal/config"
	"bookbag/internal/downloader"
	"bookbag/internal/httpx"
	"bookbag/internal/services"
	"bookbag/internal/store"
	"bookbag/internal/testsupport"
)

func newHTTP(t *testing.T) *httpx.Client {
	t.Helper()
	hc, err := httpx.New(httpx.Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("httpx.New: %v", err)
	}
	return hc
}

func serverConfig(t *testing.T, server *httptest.Server) config.Downloader {
	t.Helper()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(server.URL, "http://"))
	if err != nil {
		t.Fatalf("split %s: %v", server.URL, err)
	}
	p, _ := strconv.Atoi(port)
	return config.Downloader{Enabled: true, Host: host, Port: p, APIKey: "key", Username: "user", Password: "pass", Category: "books"}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode: %v", err)
	}
}

func TestValidateMessages(t *testing.T) {
	hc := newHTTP(t)
	cases := []struct {
		client downloader.Client
		want   string
	}{
		{downloader.NewSABnzbd(config.Downloader{}, hc), "Invalid SABnzbd host, check your config"},
		{downloader.NewSABnzbd(config.Downloader{Host: "localhost"}, hc), "Invalid SABnzbd port, check your config"},
		{downloader.NewQBittorrent(config.Downloader{Host: "localhost", Port: 70000}, hc), "Invalid qBittorrent port, check your config"},
		{downloader.NewTransmission(config.Downloader{}, hc), "Invalid Transmission host, check your config"},
	}
	for _, tc := range cases {
		err := tc.client.Validate()
		if err == nil || err.Error() != tc.want {
			t.Fatalf("%s: expected %q, got %v", tc.client.Name(), tc.want, err)
		}
		if !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("%s: expected configuration marker", tc.client.Name())
		}
	}
	if err := downloader.NewDeluge(config.Downloader{Host: "localhost", Port: 8112}, hc).Validate(); err != nil {
		t.Fatalf("expected valid deluge config, got %v", err)
	}
}

func TestIsSeedingState(t *testing.T) {
	for _, state := range []string{"uploading", "stalledUP", "Seeding", "queued_up", "QUEUEDUP"} {
		if !downloader.IsSeedingState(state) {
			t.Fatalf("expected %q to be seeding", state)
		}
	}
	for _, state := range []string{"downloading", "pausedUP", "", "stalledDL"} {
		if downloader.IsSeedingState(state) {
			t.Fatalf("expected %q not to be seeding", state)
		}
	}
}

func TestSABnzbdLifecycle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("apikey") != "key" || q.Get("output") != "json" {
			writeJSON(t, w, map[string]any{"status": false, "error": "API Key Incorrect"})
			return
		}
		switch q.Get("mode") {
		case "addurl":
			if q.Get("cat") != "books" || q.Get("nzbname") != "Dune" {
				t.Errorf("unexpected addurl params %v", q)
			}
			writeJSON(t, w, map[string]any{"status": true, "nzo_ids": []string{"SABnzbd_nzo_1"}})
		case "queue":
			if q.Get("name") == "delete" {
				writeJSON(t, w, map[string]any{"status": false})
				return
			}
			writeJSON(t, w, map[string]any{"queue": map[string]any{"slots": []any{}}})
		case "history":
			if q.Get("name") == "delete" {
				writeJSON(t, w, map[string]any{"status": true})
				return
			}
			writeJSON(t, w, map[string]any{"history": map[string]any{"slots": []any{
				map[string]any{"nzo_id": "SABnzbd_nzo_1", "status": "Completed", "storage": "/downloads/Dune"},
			}}})
		}
	}))
	defer server.Close()

	sab := downloader.NewSABnzbd(serverConfig(t, server), newHTTP(t))
	ctx := context.Background()
	id, err := sab.Submit(ctx, downloader.Job{Title: "Dune", URL: "https://indexer/get/1", Mode: store.ModeNZB})
	if err != nil || id != "SABnzbd_nzo_1" {
		t.Fatalf("Submit: id=%q err=%v", id, err)
	}
	pct, state, err := sab.Progress(ctx, id)
	if err != nil || pct != 100 || state != downloader.StateCompleted {
		t.Fatalf("Progress: pct=%d state=%q err=%v", pct, state, err)
	}
	folder, err := sab.Folder(ctx, id)
	if err != nil || folder != "/downloads/Dune" {
		t.Fatalf("Folder: %q %v", folder, err)
	}
	if pct, _, _ := sab.Progress(ctx, "missing"); pct != -1 {
		t.Fatalf("expected -1 for unknown job, got %d", pct)
	}
	removed, err := sab.Remove(ctx, id, true)
	if err != nil || !removed {
		t.Fatalf("Remove: %v %v", removed, err)
	}
}

func TestSABnzbdReportsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"status": false, "error": "API Key Incorrect"})
	}))
	defer server.Close()

	_, err := downloader.NewSABnzbd(serverConfig(t, server), newHTTP(t)).Submit(context.Background(), downloader.Job{Title: "x", URL: "u"})
	if err == nil || !strings.Contains(err.Error(), "API Key Incorrect") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestNZBGetAppendAndHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "pass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Method {
		case "append":
			if req.Params[0] != "Dune.nzb" || req.Params[2] != "books" {
				t.Errorf("unexpected append params %v", req.Params)
			}
			writeJSON(t, w, map[string]any{"result": 42})
		case "listgroups":
			writeJSON(t, w, map[string]any{"result": []any{
				map[string]any{"NZBID": 7, "FileSizeMB": 200, "RemainingSizeMB": 50, "Status": "DOWNLOADING"},
			}})
		case "history":
			writeJSON(t, w, map[string]any{"result": []any{
				map[string]any{"NZBID": 42, "Status": "SUCCESS/ALL", "DestDir": "/dl/Dune"},
			}})
		}
	}))
	defer server.Close()

	client := downloader.NewNZBGet(serverConfig(t, server), newHTTP(t))
	ctx := context.Background()
	id, err := client.Submit(ctx, downloader.Job{Title: "Dune", URL: "https://indexer/get/1"})
	if err != nil || id != "42" {
		t.Fatalf("Submit: %q %v", id, err)
	}
	if pct, state, err := client.Progress(ctx, "7"); err != nil || pct != 75 || state != "downloading" {
		t.Fatalf("Progress queued: %d %q %v", pct, state, err)
	}
	if pct, state, err := client.Progress(ctx, "42"); err != nil || pct != 100 || state != downloader.StateCompleted {
		t.Fatalf("Progress history: %d %q %v", pct, state, err)
	}
}

func TestTransmissionSessionHandshake(t *testing.T) {
	handshakes := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Transmission-Session-Id") != "abc" {
			handshakes++
			w.Header().Set("X-Transmission-Session-Id", "abc")
			w.WriteHeader(http.StatusConflict)
			return
		}
		var req struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Method {
		case "torrent-add":
			writeJSON(t, w, map[string]any{"result": "success", "arguments": map[string]any{
				"torrent-added": map[string]any{"hashString": "ABCDEF", "name": "Dune"},
			}})
		case "torrent-get":
			writeJSON(t, w, map[string]any{"result": "success", "arguments": map[string]any{
				"torrents": []any{map[string]any{"hashString": "abcdef", "percentDone": 1.0, "status": 6, "downloadDir": "/dl", "name": "Dune"}},
			}})
		case "torrent-remove":
			writeJSON(t, w, map[string]any{"result": "success", "arguments": map[string]any{}})
		}
	}))
	defer server.Close()

	client := downloader.NewTransmission(serverConfig(t, server), newHTTP(t))
	ctx := context.Background()
	id, err := client.Submit(ctx, downloader.Job{Title: "Dune", URL: "magnet:?xt=urn:btih:ABCDEF"})
	if err != nil || id != "abcdef" {
		t.Fatalf("Submit: %q %v", id, err)
	}
	pct, state, err := client.Progress(ctx, id)
	if err != nil || pct != 100 || !client.IsSeedingState(state) {
		t.Fatalf("Progress: %d %q %v", pct, state, err)
	}
	if folder, _ := client.Folder(ctx, id); folder != "/dl/Dune" {
		t.Fatalf("unexpected folder %q", folder)
	}
	if removed, err := client.Remove(ctx, id, false); err != nil || !removed {
		t.Fatalf("Remove: %v %v", removed, err)
	}
	if handshakes != 1 {
		t.Fatalf("expected one session handshake, got %d", handshakes)
	}
}

func TestQBittorrentLoginAndProgress(t *testing.T) {
	logins := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/auth/login" {
			logins++
			_ = r.ParseForm()
			if r.Form.Get("username") != "user" {
				_, _ = w.Write([]byte("Fails."))
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "SID", Value: "sid-1"})
			_, _ = w.Write([]byte("Ok."))
			return
		}
		if c, err := r.Cookie("SID"); err != nil || c.Value != "sid-1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.URL.Path {
		case "/api/v2/torrents/add":
			_ = r.ParseForm()
			if !strings.HasPrefix(r.Form.Get("urls"), "magnet:") || r.Form.Get("category") != "books" {
				t.Errorf("unexpected add form %v", r.Form)
			}
			_, _ = w.Write([]byte("Ok."))
		case "/api/v2/torrents/info":
			writeJSON(t, w, []any{map[string]any{"hash": "abc123", "progress": 0.5, "state": "downloading", "content_path": "/dl/Dune"}})
		case "/api/v2/torrents/delete":
			_, _ = w.Write(nil)
		}
	}))
	defer server.Close()

	client := downloader.NewQBittorrent(serverConfig(t, server), newHTTP(t))
	ctx := context.Background()
	id, err := client.Submit(ctx, downloader.Job{Title: "Dune", URL: "magnet:?xt=urn:btih:ABC123&dn=Dune"})
	if err != nil || id != "abc123" {
		t.Fatalf("Submit: %q %v", id, err)
	}
	pct, state, err := client.Progress(ctx, id)
	if err != nil || pct != 50 || state != "downloading" {
		t.Fatalf("Progress: %d %q %v", pct, state, err)
	}
	if removed, err := client.Remove(ctx, id, true); err != nil || !removed {
		t.Fatalf("Remove: %v %v", removed, err)
	}
	if logins != 1 {
		t.Fatalf("expected session reuse, got %d logins", logins)
	}
}

func TestDelugeAddMagnet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Method == "auth.login" {
			http.SetCookie(w, &http.Cookie{Name: "_session_id", Value: "s1"})
			writeJSON(t, w, map[string]any{"result": req.Params[0] == "pass"})
			return
		}
		if c, err := r.Cookie("_session_id"); err != nil || c.Value != "s1" {
			writeJSON(t, w, map[string]any{"result": nil, "error": map[string]any{"message": "Not authenticated", "code": 1}})
			return
		}
		switch req.Method {
		case "core.add_torrent_magnet":
			writeJSON(t, w, map[string]any{"result": "FEED01"})
		case "label.set_torrent":
			writeJSON(t, w, map[string]any{"result": nil, "error": map[string]any{"message": "Unknown method", "code": 2}})
		case "core.get_torrent_status":
			writeJSON(t, w, map[string]any{"result": map[string]any{"progress": 100.0, "state": "Seeding", "save_path": "/dl", "name": "Dune"}})
		}
	}))
	defer server.Close()

	client := downloader.NewDeluge(serverConfig(t, server), newHTTP(t))
	ctx := context.Background()
	id, err := client.Submit(ctx, downloader.Job{Title: "Dune", URL: "magnet:?xt=urn:btih:feed01"})
	if err != nil || id != "feed01" {
		t.Fatalf("Submit: %q %v", id, err)
	}
	pct, state, err := client.Progress(ctx, id)
	if err != nil || pct != 100 || !client.IsSeedingState(state) {
		t.Fatalf("Progress: %d %q %v", pct, state, err)
	}
}

func TestBlackholeWritesPayload(t *testing.T) {
	dir := t.TempDir()
	hole := downloader.NewBlackhole(downloader.ProtocolTorrent, dir, newHTTP(t))
	id, err := hole.Submit(context.Background(), downloader.Job{Title: "Dune: Messiah", URL: "magnet:?xt=urn:btih:abc", Mode: store.ModeMagnet})
	if err != nil || id == "" {
		t.Fatalf("Submit: %q %v", id, err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "Dune- Messiah.magnet"))
	if err != nil {
		t.Fatalf("read magnet: %v", err)
	}
	if string(data) != "magnet:?xt=urn:btih:abc" {
		t.Fatalf("unexpected magnet content %q", data)
	}
	if pct, _, _ := hole.Progress(context.Background(), id); pct != -1 {
		t.Fatalf("expected unknown progress, got %d", pct)
	}
	if err := downloader.NewBlackhole(downloader.ProtocolUsenet, "", nil).Validate(); err == nil {
		t.Fatal("expected empty directory to fail validation")
	}
}

func TestDirectDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="Dune.epub"`)
		w.Header().Set("Content-Type", "application/epub+zip")
		_, _ = io.WriteString(w, "epub-bytes")
	}))
	defer server.Close()

	dir := t.TempDir()
	client := downloader.NewDirect(dir, newHTTP(t))
	ctx := context.Background()
	id, err := client.Submit(ctx, downloader.Job{Title: "Dune", URL: server.URL + "/get?id=1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	folder, _ := client.Folder(ctx, id)
	if _, err := os.Stat(filepath.Join(folder, "Dune.epub")); err != nil {
		t.Fatalf("expected downloaded file: %v", err)
	}
	if pct, state, _ := client.Progress(ctx, id); pct != 100 || state != downloader.StateCompleted {
		t.Fatalf("unexpected progress %d %q", pct, state)
	}
}

func TestBreakerOpensAfterTransportFailures(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	cfg := serverConfig(t, server)
	server.Close()

	client := downloader.WithBreaker(downloader.NewSABnzbd(cfg, newHTTP(t)),
		downloader.BreakerSettings{Failures: 2, Cooldown: time.Minute}, nil)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _, err := client.Progress(ctx, "x")
		var connErr *httpx.ConnectionError
		if !errors.As(err, &connErr) {
			t.Fatalf("attempt %d: expected connection error, got %v", i, err)
		}
	}
	_, _, err := client.Progress(ctx, "x")
	if err == nil || !errors.Is(err, services.ErrTransient) || !strings.Contains(err.Error(), "paused") {
		t.Fatalf("expected breaker rejection, got %v", err)
	}
}

func TestBreakerIgnoresApplicationErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := downloader.WithBreaker(downloader.NewSABnzbd(serverConfig(t, server), newHTTP(t)),
		downloader.BreakerSettings{Failures: 1, Cooldown: time.Minute}, nil)
	for i := 0; i < 3; i++ {
		_, _, err := client.Progress(context.Background(), "x")
		var respErr *httpx.ResponseError
		if !errors.As(err, &respErr) {
			t.Fatalf("attempt %d: expected response error, got %v", i, err)
		}
	}
}

func TestRegistryPrefersPriority(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Downloaders.SABnzbd = config.Downloader{Enabled: true, Host: "localhost", Port: 8080, Priority: 2}
	cfg.Downloaders.NZBGet = config.Downloader{Enabled: true, Host: "localhost", Port: 6789, Priority: 1}
	cfg.Downloaders.Deluge = config.Downloader{Enabled: true, Host: "", Port: 8112}

	registry := downloader.FromConfig(cfg, newHTTP(t), nil)
	client, err := registry.ForMode(store.ModeNZB)
	if err != nil || client.Name() != "NZBGet" {
		t.Fatalf("expected NZBGet, got %v %v", client, err)
	}
	if _, err := registry.ForMode(store.ModeMagnet); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected no torrent client, got %v", err)
	}
	if direct, err := registry.ForMode(store.ModeDirect); err != nil || direct.Name() != "Direct" {
		t.Fatalf("expected direct client, got %v %v", direct, err)
	}
	if _, ok := registry.Get("sabnzbd"); !ok {
		t.Fatal("expected lookup by lowercase name")
	}
}

func TestMagnetHash(t *testing.T) {
	if got := downloader.MagnetHash("magnet:?dn=x&xt=urn:btih:ABCDEF0123&tr=udp"); got != "abcdef0123" {
		t.Fatalf("unexpected hash %q", got)
	}
	if got := downloader.MagnetHash("https://example/file.torrent"); got != "" {
		t.Fatalf("expected empty hash, got %q", got)
	}
}
