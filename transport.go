package offlinecache

import (
	"context"
	"net/http"
	"time"
)

const DefaultFetchTimeout = 10 * time.Second

// hop-by-hop headers are not forwarded to the network
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type HTTPTransportConfig struct {
	// Timeout for a whole request, DefaultFetchTimeout if zero.
	Timeout time.Duration
	// Base transport, http.DefaultTransport if nil.
	Base http.RoundTripper
}

// HTTPTransport fetches requests with an http.Client.
type HTTPTransport struct {
	client *http.Client
}

func NewHTTPTransport(config HTTPTransportConfig) *HTTPTransport {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultFetchTimeout
	}
	base := config.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return &HTTPTransport{
		client: &http.Client{
			Transport: base,
			Timeout:   timeout,
		},
	}
}

// Fetch sends the request. The request URL must be absolute.
func (t *HTTPTransport) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	return t.client.Do(out)
}
