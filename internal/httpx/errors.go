package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"bookbag/internal/services"
)

// TimeoutError reports a request that exceeded its deadline.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out", e.URL)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool { return target == services.ErrTimeout }

// ConnectionError reports a refused connection, failed DNS lookup or reset.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == services.ErrTransient }

// ResponseError reports a non-2xx status. Body holds at most the first few
// kilobytes of the response.
type ResponseError struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *ResponseError) Error() string {
	text := http.StatusText(e.StatusCode)
	if text == "" {
		return fmt.Sprintf("%s returned HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s returned HTTP %d %s", e.URL, e.StatusCode, text)
}

func (e *ResponseError) Is(target error) bool {
	if e.StatusCode >= 500 {
		return target == services.ErrTransient
	}
	return target == services.ErrExternalTool
}

// MalformedError reports a body that could not be decoded as Format.
type MalformedError struct {
	URL    string
	Format string
	Err    error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s from %s: %v", e.Format, e.URL, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

func (e *MalformedError) Is(target error) bool { return target == services.ErrExternalTool }

var rateLimitPhrases = []string{"rate limit", "too many requests", "request limit reached"}

// IsRateLimited reports whether err, or body text returned by a provider,
// indicates the remote side is throttling us.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		if respErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		if MentionsRateLimit(string(respErr.Body)) {
			return true
		}
	}
	return MentionsRateLimit(err.Error())
}

// MentionsRateLimit reports whether text contains a throttling phrase.
func MentionsRateLimit(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
