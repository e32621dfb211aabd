package httpx_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"bookbag/internal/httpx"
	"bookbag/internal/services"
)

func newClient(t *testing.T, opts httpx.Options) *httpx.Client {
	t.Helper()
	client, err := httpx.New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestDoMergesParamsAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("t") != "search" || r.URL.Query().Get("q") != "dune" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Errorf("missing header")
		}
		if r.Header.Get("User-Agent") != "bookbag-test" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := newClient(t, httpx.Options{UserAgent: "bookbag-test"})
	resp, err := client.Do(context.Background(), httpx.Request{
		URL:     server.URL + "/api?t=search",
		Params:  url.Values{"q": {"dune"}},
		Headers: map[string]string{"X-Api-Key": "secret"},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	var payload struct {
		OK bool `json:"ok"`
	}
	if err := httpx.DecodeJSON(resp, &payload); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if !payload.OK {
		t.Fatal("expected ok payload")
	}
}

func TestDoTypesStatusErrors(t *testing.T) {
	cases := []struct {
		status int
		marker error
	}{
		{http.StatusNotFound, services.ErrExternalTool},
		{http.StatusUnauthorized, services.ErrExternalTool},
		{http.StatusBadGateway, services.ErrTransient},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte("nope"))
		}))
		_, err := newClient(t, httpx.Options{}).Do(context.Background(), httpx.Request{URL: server.URL + "/?apikey=secret"})
		server.Close()

		var respErr *httpx.ResponseError
		if !errors.As(err, &respErr) {
			t.Fatalf("status %d: expected ResponseError, got %v", tc.status, err)
		}
		if respErr.StatusCode != tc.status || string(respErr.Body) != "nope" {
			t.Fatalf("status %d: unexpected error %#v", tc.status, respErr)
		}
		if !errors.Is(err, tc.marker) {
			t.Fatalf("status %d: expected marker %v", tc.status, tc.marker)
		}
		if got := err.Error(); strings.Contains(got, "secret") {
			t.Fatalf("error leaks query string: %s", got)
		}
	}
}

func TestDoTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := newClient(t, httpx.Options{}).Do(context.Background(), httpx.Request{
		URL:     server.URL,
		Timeout: 50 * time.Millisecond,
	})
	var timeoutErr *httpx.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatal("expected ErrTimeout marker")
	}
}

func TestDoConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	_, err := newClient(t, httpx.Options{Timeout: 2 * time.Second}).Do(context.Background(), httpx.Request{URL: addr})
	var connErr *httpx.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatal("expected ErrTransient marker")
	}
}

func TestDoCancelledContextIsNotTyped(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newClient(t, httpx.Options{}).Do(ctx, httpx.Request{URL: server.URL})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	resp := &httpx.Response{StatusCode: 200, Body: []byte("<html>"), URL: "http://example/api?apikey=x"}
	var v map[string]any
	err := httpx.DecodeJSON(resp, &v)
	var malformed *httpx.MalformedError
	if !errors.As(err, &malformed) || malformed.Format != "json" {
		t.Fatalf("expected json MalformedError, got %v", err)
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatal("expected ErrExternalTool marker")
	}

	var x struct{}
	resp.Body = []byte("not xml <")
	if err := httpx.DecodeXML(resp, &x); !errors.As(err, &malformed) {
		t.Fatalf("expected xml MalformedError, got %v", err)
	}
}

func TestSkipsTLSVerificationByDefault(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	if _, err := newClient(t, httpx.Options{}).Do(context.Background(), httpx.Request{URL: server.URL}); err != nil {
		t.Fatalf("expected insecure request to succeed: %v", err)
	}
	_, err := newClient(t, httpx.Options{VerifyTLS: true}).Do(context.Background(), httpx.Request{URL: server.URL})
	var connErr *httpx.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected verification failure as ConnectionError, got %v", err)
	}
}

func TestIsRateLimited(t *testing.T) {
	if !httpx.IsRateLimited(&httpx.ResponseError{StatusCode: http.StatusTooManyRequests}) {
		t.Fatal("expected 429 to be rate limited")
	}
	if !httpx.IsRateLimited(&httpx.ResponseError{StatusCode: 403, Body: []byte("Request limit reached")}) {
		t.Fatal("expected body phrase to be rate limited")
	}
	if httpx.IsRateLimited(&httpx.ResponseError{StatusCode: 500}) {
		t.Fatal("plain 500 is not rate limited")
	}
	if httpx.IsRateLimited(nil) {
		t.Fatal("nil is not rate limited")
	}
}
