package offlinecache

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/always-cache/offline-cache/namespace"
	"github.com/always-cache/offline-cache/rfc9211"
)

const offlineBody = "Offline - resource unavailable"

// offlineFallback is the last resort of every strategy. It never fails:
// navigations get the stored root document if there is one,
// everything else a 503.
func (w *Worker) offlineFallback(ctx context.Context, s Strategy, ns namespace.NamespaceId, req *http.Request) *http.Response {
	w.metrics.response(s, ns, sourceFallback)
	if isNavigation(req) {
		if res, ok := w.storedRootDocument(ctx, req); ok {
			w.log.Debug().Str("url", req.URL.String()).Msg("Serving root document to offline navigation")
			return withCacheStatus(res, rfc9211.CacheStatus{Status: rfc9211.StatusHit, Detail: "offline-root"})
		}
	}
	w.log.Debug().Str("url", req.URL.String()).Msg("Resource unavailable offline")
	return unavailable(req)
}

// storedRootDocument looks for the root document in the current namespaces.
func (w *Worker) storedRootDocument(ctx context.Context, navigation *http.Request) (*http.Response, bool) {
	rootURL, err := w.keyer.ResolveString(w.rootDocument)
	if err != nil {
		w.log.Error().Err(err).Str("rootDocument", w.rootDocument).Msg("Invalid root document")
		return nil, false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rootURL.String(), nil)
	if err != nil {
		w.log.Error().Err(err).Str("rootDocument", w.rootDocument).Msg("Could not create root document request")
		return nil, false
	}
	req.Header = navigation.Header.Clone()
	for _, ns := range w.registry.Current() {
		if res, ok := w.lookup(ctx, ns, req); ok {
			return res, true
		}
	}
	return nil, false
}

// isNavigation reports whether the request loads a top-level document.
// Browsers send Sec-Fetch-Mode; for other clients an HTML Accept header counts.
func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

// unavailable builds the synthetic offline response.
func unavailable(req *http.Request) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Content-Length", strconv.Itoa(len(offlineBody)))
	cs := rfc9211.CacheStatus{Detail: "offline"}
	cs.Forward(rfc9211.FwdReasonMiss)
	header.Set(rfc9211.HeaderName, cs.String())
	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(offlineBody)),
		ContentLength: int64(len(offlineBody)),
		Request:       req,
	}
}
