package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrorMethodNotSupported = fmt.Errorf("Method not supported")

const methodSeparator = ":"

// CacheKeyer builds storage keys for requests.
// Keys are absolute so that responses from different hosts
// (the app origin and e.g. font providers) can share a namespace.
type CacheKeyer struct {
	// Origin relative request URLs are resolved against.
	Origin *url.URL
}

func NewCacheKeyer(origin *url.URL) CacheKeyer {
	return CacheKeyer{Origin: origin}
}

// Resolve returns the absolute URL of the request.
// Requests that already carry a host (e.g. proxied requests) are left as they are.
func (c CacheKeyer) Resolve(r *http.Request) *url.URL {
	if r.URL.IsAbs() || c.Origin == nil {
		return r.URL
	}
	return c.Origin.ResolveReference(&url.URL{
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	})
}

// ResolveString resolves a possibly relative URL reference against the origin.
func (c CacheKeyer) ResolveString(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if u.IsAbs() || c.Origin == nil {
		return u, nil
	}
	return c.Origin.ResolveReference(u), nil
}

// GetKey returns the cache key of a request: the method and the absolute URL
// without fragment, e.g. `GET:https://example.com/index.html`.
func (c CacheKeyer) GetKey(r *http.Request) string {
	u := *c.Resolve(r)
	u.Fragment = ""
	u.RawFragment = ""
	return r.Method + methodSeparator + u.String()
}

// GetRequestFromKey creates a request equal (caching-wise) to the one that
// resulted in the given key. Only GET keys are supported.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, rawURL, found := strings.Cut(key, methodSeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	if method != http.MethodGet {
		return nil, ErrorMethodNotSupported
	}
	return http.NewRequest(method, rawURL, nil)
}
