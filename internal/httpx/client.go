package httpx

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"bookbag/internal/config"
	"bookbag/internal/logging"
)

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 64 << 20
	errorBodyBytes   = 4 << 10
)

// Options configures a Client.
type Options struct {
	Timeout   time.Duration
	Proxy     string
	VerifyTLS bool
	UserAgent string
	// Transport replaces the default round tripper; Proxy and VerifyTLS are
	// ignored when it is set.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Request describes one call. Params are merged into the URL query. A zero
// Timeout uses the client default; a non-empty Proxy overrides the client proxy.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Params  url.Values
	Body    []byte
	Timeout time.Duration
	Proxy   string
}

// Response holds a fully read body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

// Client issues requests with uniform error typing.
type Client struct {
	opts   Options
	logger *slog.Logger
	base   http.RoundTripper

	mu      sync.Mutex
	proxied map[string]http.RoundTripper
}

// New constructs a Client.
func New(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	c := &Client{
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "http"),
		proxied: make(map[string]http.RoundTripper),
	}
	if opts.Transport != nil {
		c.base = opts.Transport
		return c, nil
	}
	transport, err := buildTransport(opts.Proxy, opts.VerifyTLS)
	if err != nil {
		return nil, err
	}
	c.base = transport
	return c, nil
}

// NewFromConfig builds a Client from the http section of cfg.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	return New(Options{
		Timeout:   time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
		Proxy:     cfg.HTTP.Proxy,
		VerifyTLS: cfg.HTTP.VerifiesTLS(),
		UserAgent: cfg.HTTP.UserAgent,
		Logger:    logger,
	})
}

func buildTransport(proxy string, verifyTLS bool) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !verifyTLS} //nolint:gosec // operator controlled
	if proxy = strings.TrimSpace(proxy); proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	} else {
		transport.Proxy = nil
	}
	return transport, nil
}

func (c *Client) transportFor(proxy string) (http.RoundTripper, error) {
	proxy = strings.TrimSpace(proxy)
	if proxy == "" || c.opts.Transport != nil || proxy == strings.TrimSpace(c.opts.Proxy) {
		return c.base, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt, ok := c.proxied[proxy]; ok {
		return rt, nil
	}
	rt, err := buildTransport(proxy, c.opts.VerifyTLS)
	if err != nil {
		return nil, err
	}
	c.proxied[proxy] = rt
	return rt, nil
}

// Do performs req and returns the response when the status is 2xx.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target, err := buildURL(req.URL, req.Params)
	if err != nil {
		return nil, err
	}
	display := Redact(target)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", display, err)
	}
	if c.opts.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.opts.UserAgent)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	rt, err := c.transportFor(req.Proxy)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Transport: rt}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, display, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classify(ctx, display, err)
	}
	c.logger.Debug("http request",
		logging.String("method", method),
		logging.String(logging.FieldURL, display),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := data
		if len(snippet) > errorBodyBytes {
			snippet = snippet[:errorBodyBytes]
		}
		return nil, &ResponseError{URL: display, StatusCode: resp.StatusCode, Header: resp.Header, Body: snippet}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data, URL: target}, nil
}

func classify(ctx context.Context, display string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{URL: display, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{URL: display, Err: err}
	}
	return &ConnectionError{URL: display, Err: err}
}

func buildURL(raw string, params url.Values) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("url %q must be absolute", raw)
	}
	if len(params) > 0 {
		query := parsed.Query()
		for key, values := range params {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

// Redact strips the query string and credentials from a URL for logging.
func Redact(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	parsed.User = nil
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}

// BasicAuth returns an Authorization header value.
func BasicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// Cookies parses Set-Cookie headers from a response.
func (r *Response) Cookies() []*http.Cookie {
	if r == nil {
		return nil
	}
	return (&http.Response{Header: r.Header}).Cookies()
}

// DecodeJSON unmarshals resp.Body into v.
func DecodeJSON(resp *Response, v any) error {
	if resp == nil {
		return &MalformedError{Format: "json", Err: errors.New("nil response")}
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return &MalformedError{URL: Redact(resp.URL), Format: "json", Err: err}
	}
	return nil
}

// DecodeXML unmarshals resp.Body into v.
func DecodeXML(resp *Response, v any) error {
	if resp == nil {
		return &MalformedError{Format: "xml", Err: errors.New("nil response")}
	}
	if err := xml.Unmarshal(resp.Body, v); err != nil {
		return &MalformedError{URL: Redact(resp.URL), Format: "xml", Err: err}
	}
	return nil
}
