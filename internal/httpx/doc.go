// Package httpx is the single HTTP transport used by download-client adapters
// and search providers.
//
// Client.Do applies the configured proxy, timeout and TLS policy and turns
// every failure into one of four typed errors: TimeoutError, ConnectionError,
// ResponseError (non-2xx) and MalformedError (body decode). Each also matches
// a services marker through errors.Is so callers can classify failures without
// importing this package. Do never retries; retry and cool-down policy belong
// to the caller.
package httpx
