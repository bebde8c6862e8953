package offlinecache

import (
	"context"
	"fmt"
	"net/http"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/namespace"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	"github.com/always-cache/offline-cache/rfc9211"
)

const (
	sourceCache    = "cache"
	sourceNetwork  = "network"
	sourceFallback = "fallback"
)

// cacheFirst serves the stored response if there is one and only goes
// to the network on a miss. Only suitable for immutable content.
func (w *Worker) cacheFirst(ctx context.Context, req *http.Request, ns namespace.NamespaceId) *http.Response {
	if cached, ok := w.lookup(ctx, ns, req); ok {
		w.metrics.response(CacheFirst, ns, sourceCache)
		return withCacheStatus(cached, rfc9211.CacheStatus{Status: rfc9211.StatusHit})
	}

	res, err := w.fetch(ctx, req)
	if err != nil {
		w.log.Debug().Err(err).Str("url", req.URL.String()).Msg("Network unavailable on cache miss")
		return w.offlineFallback(ctx, CacheFirst, ns, req)
	}
	cs := rfc9211.CacheStatus{FwdStatus: res.StatusCode}
	cs.Forward(rfc9211.FwdReasonUriMiss)
	if res.StatusCode == http.StatusOK {
		cs.Stored = w.storeLogged(ctx, ns, req, res)
	}
	w.metrics.response(CacheFirst, ns, sourceNetwork)
	return withCacheStatus(res, cs)
}

// networkFirst prefers a fresh response and falls back to the stored one
// when the network cannot be reached.
func (w *Worker) networkFirst(ctx context.Context, req *http.Request, ns namespace.NamespaceId) *http.Response {
	res, err := w.fetch(ctx, req)
	if err == nil {
		cs := rfc9211.CacheStatus{FwdStatus: res.StatusCode}
		cs.Forward(rfc9211.FwdReasonRequest)
		if res.StatusCode == http.StatusOK {
			cs.Stored = w.storeLogged(ctx, ns, req, res)
		}
		w.metrics.response(NetworkFirst, ns, sourceNetwork)
		return withCacheStatus(res, cs)
	}

	w.log.Debug().Err(err).Str("url", req.URL.String()).Msg("Network unavailable, trying cache")
	if cached, ok := w.lookup(ctx, ns, req); ok {
		w.metrics.response(NetworkFirst, ns, sourceCache)
		return withCacheStatus(cached, rfc9211.CacheStatus{Status: rfc9211.StatusHit, Detail: "offline"})
	}
	return w.offlineFallback(ctx, NetworkFirst, ns, req)
}

// staleWhileRevalidate serves the stored response right away and refreshes
// it in the background for the next request. Without a stored response
// it waits for the network.
func (w *Worker) staleWhileRevalidate(ctx context.Context, req *http.Request, ns namespace.NamespaceId) *http.Response {
	cached, hit := w.lookup(ctx, ns, req)

	// buffered so that the revalidation never blocks if nobody is waiting
	result := make(chan revalidation, 1)
	w.revalidations.Add(1)
	go func() {
		defer w.revalidations.Done()
		defer func() {
			if p := recover(); p != nil {
				w.log.Error().Interface("panic", p).Str("url", req.URL.String()).Msg("Recovered in revalidation")
				w.metrics.revalidation("failed")
				result <- revalidation{}
			}
		}()
		// the revalidation outlives the request that started it
		result <- w.revalidate(context.WithoutCancel(ctx), req, ns)
	}()

	if hit {
		w.metrics.response(StaleWhileRevalidate, ns, sourceCache)
		return withCacheStatus(cached, rfc9211.CacheStatus{Status: rfc9211.StatusHit, Detail: "revalidating"})
	}

	if fresh := <-result; fresh.res != nil {
		cs := rfc9211.CacheStatus{FwdStatus: fresh.res.StatusCode, Stored: fresh.stored}
		cs.Forward(rfc9211.FwdReasonUriMiss)
		w.metrics.response(StaleWhileRevalidate, ns, sourceNetwork)
		return withCacheStatus(fresh.res, cs)
	}
	return w.offlineFallback(ctx, StaleWhileRevalidate, ns, req)
}

// revalidation is the outcome of a background fetch.
// res is nil if the network could not be reached.
type revalidation struct {
	res    *http.Response
	stored bool
}

// revalidate fetches a fresh copy and stores it if the status is 200.
func (w *Worker) revalidate(ctx context.Context, req *http.Request, ns namespace.NamespaceId) revalidation {
	res, err := w.fetch(ctx, req)
	if err != nil {
		w.log.Debug().Err(err).Str("url", req.URL.String()).Msg("Revalidation failed")
		w.metrics.revalidation("failed")
		return revalidation{}
	}
	if res.StatusCode != http.StatusOK {
		w.metrics.revalidation("not-stored")
		return revalidation{res: res}
	}
	stored := w.storeLogged(ctx, ns, req, res)
	if stored {
		w.metrics.revalidation("stored")
	} else {
		w.metrics.revalidation("not-stored")
	}
	return revalidation{res: res, stored: stored}
}

// fetch sends the request and reads the whole body. A body that cannot be
// read completely (e.g. a timeout mid-body) is a network failure like any other,
// so callers never see a truncated response.
func (w *Worker) fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	w.log.Trace().Str("url", req.URL.String()).Msg("Fetching from network")
	res, err := w.transport.Fetch(ctx, req.Clone(ctx))
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("transport returned no response")
	}
	if err := serializer.Buffer(res); err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return res, nil
}

// lookup returns the stored response for the request.
// Storage errors are logged and count as a miss.
func (w *Worker) lookup(ctx context.Context, ns namespace.NamespaceId, req *http.Request) (*http.Response, bool) {
	key := w.keyer.GetKey(req)
	handle, err := w.storage.Open(ctx, ns.String())
	if err != nil {
		w.log.Error().Err(err).Str("namespace", ns.String()).Msg("Could not open namespace")
		return nil, false
	}
	entry, ok, err := handle.Lookup(ctx, key)
	if err != nil {
		w.log.Error().Err(err).Str("key", key).Msg("Could not read from cache")
		return nil, false
	}
	if !ok {
		w.log.Trace().Str("key", key).Str("namespace", ns.String()).Msg("Cache miss")
		return nil, false
	}
	sRes, err := serializer.BytesToStoredResponse(entry.Bytes, req)
	if err != nil {
		w.log.Error().Err(err).Str("key", key).Msg("Could not read stored response")
		return nil, false
	}
	w.log.Trace().Str("key", key).Str("namespace", ns.String()).Time("storedAt", sRes.StoredAt).Msg("Cache hit")
	return sRes.Response, true
}

// store puts an independent copy of the response into the namespace.
// The response stays readable for the caller.
func (w *Worker) store(ctx context.Context, ns namespace.NamespaceId, req *http.Request, res *http.Response) error {
	storedAt := w.now()
	bts, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
		Response: res,
		StoredAt: storedAt,
	})
	if err != nil {
		return fmt.Errorf("copy response: %w", err)
	}
	handle, err := w.storage.Open(ctx, ns.String())
	if err != nil {
		return fmt.Errorf("open namespace %s: %w", ns, err)
	}
	key := w.keyer.GetKey(req)
	if err := handle.Put(ctx, cache.CacheEntry{Key: key, StoredAt: storedAt, Bytes: bts}); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	w.log.Trace().Str("key", key).Str("namespace", ns.String()).Msg("Wrote to cache")
	return nil
}

func (w *Worker) storeLogged(ctx context.Context, ns namespace.NamespaceId, req *http.Request, res *http.Response) bool {
	if err := w.store(ctx, ns, req, res); err != nil {
		w.log.Error().Err(err).Str("url", req.URL.String()).Msg("Could not write to cache")
		return false
	}
	return true
}

func withCacheStatus(res *http.Response, cs rfc9211.CacheStatus) *http.Response {
	if res.Header == nil {
		res.Header = http.Header{}
	}
	res.Header.Set(rfc9211.HeaderName, cs.String())
	return res
}

func closeBody(res *http.Response) {
	if res.Body != nil {
		res.Body.Close()
	}
}
