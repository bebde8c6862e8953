package host

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/namespace"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// origin is a web application that counts the requests it receives.
type origin struct {
	*httptest.Server
	mutex sync.Mutex
	hits  map[string]int
}

func newOrigin(t *testing.T) *origin {
	o := &origin{hits: make(map[string]int)}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mutex.Lock()
		o.hits[r.Method+" "+r.URL.Path]++
		o.mutex.Unlock()
		switch r.URL.Path {
		case "/index.html":
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, "<html>panjika</html>")
		case "/app.js":
			io.WriteString(w, "console.log('panjika')")
		case "/api/notes":
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, "created")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *origin) count(key string) int {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.hits[key]
}

type testServer struct {
	*Server
	runtime *Runtime
	worker  *offlinecache.Worker
	storage cache.Storage
	origin  *origin
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	o := newOrigin(t)
	originURL, err := url.Parse(o.URL)
	require.NoError(t, err)
	registry, err := namespace.NewRegistry("v1.1", namespace.Prefixes{
		Static:  "panjika-static",
		Fonts:   "panjika-fonts",
		Generic: "panjika",
	})
	require.NoError(t, err)

	logger := zerolog.Nop()
	reg := prometheus.NewRegistry()
	rt := NewRuntime(Config{Logger: &logger})
	storage := cache.NewMemStorage()
	worker, err := offlinecache.CreateWorker(offlinecache.Config{
		Storage:   storage,
		Registry:  registry,
		OriginURL: *originURL,
		Host:      rt,
		Notifier:  rt.Notifications(),
		AppShell:  []string{"/index.html"},
		Logger:    &logger,
		Metrics:   offlinecache.NewMetrics(reg),
	})
	require.NoError(t, err)
	t.Cleanup(worker.Drain)

	server := NewServer(ServerConfig{
		Runtime:   rt,
		Storage:   storage,
		Registry:  registry,
		OriginURL: *originURL,
		Gatherer:  reg,
		Logger:    &logger,
	})
	return testServer{Server: server, runtime: rt, worker: worker, storage: storage, origin: o}
}

func (ts testServer) register(t *testing.T) {
	t.Helper()
	require.NoError(t, ts.runtime.Register(context.Background(), ts.worker))
	require.Equal(t, StateActive, ts.runtime.State())
}

func (ts testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	ts.ServeHTTP(rr, httptest.NewRequest(method, target, reader))
	return rr
}

func TestPassThroughBeforeRegistration(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodGet, "/app.js", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OfflineCache; fwd=bypass", rr.Header().Get("Cache-Status"))
	assert.Equal(t, 1, ts.origin.count("GET /app.js"))

	assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodPost, "/__offline/message", `{"type":"GET_VERSION"}`).Code)
}

func TestServesFromCacheWhenOriginIsDown(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t)
	assert.Equal(t, 1, ts.origin.count("GET /index.html"))

	rr := ts.do(http.MethodGet, "/app.js", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "console.log('panjika')", rr.Body.String())
	ts.worker.Drain()

	ts.origin.Close()

	rr = ts.do(http.MethodGet, "/app.js", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "console.log('panjika')", rr.Body.String())
	assert.Contains(t, rr.Header().Get("Cache-Status"), "hit")

	req := httptest.NewRequest(http.MethodGet, "/calendar", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	rr = httptest.NewRecorder()
	ts.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "<html>panjika</html>", rr.Body.String())

	rr = ts.do(http.MethodGet, "/missing.png", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "Offline - resource unavailable", rr.Body.String())
}

func TestNonGetPassesThrough(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t)

	rr := ts.do(http.MethodPost, "/api/notes", "note")
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "created", rr.Body.String())
	assert.Equal(t, "OfflineCache; fwd=method", rr.Header().Get("Cache-Status"))
	assert.Equal(t, 1, ts.origin.count("POST /api/notes"))
}

func TestMessageEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t)

	rr := ts.do(http.MethodPost, "/__offline/message", `{"type":"GET_VERSION"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"version":"panjika-v1.1"}`, rr.Body.String())

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodPost, "/__offline/message", `{"type":"NOPE"}`).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodPost, "/__offline/message", `garbage`).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodPost, "/__offline/message", `{"type":"SKIP_WAITING"}`).Code)
}

func TestPushAndNotificationClick(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t)

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodPost, "/__offline/push", `{"body":"আজ পূর্ণিমা"}`).Code)

	rr := ts.do(http.MethodGet, "/__offline/notifications", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var notifications []NotificationInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &notifications))
	require.Len(t, notifications, 1)
	assert.Equal(t, "বাংলা পঞ্জিকা", notifications[0].Title)
	assert.Equal(t, "আজ পূর্ণিমা", notifications[0].Options.Body)

	rr = ts.do(http.MethodPost, "/__offline/notifications/"+notifications[0].ID+"/click", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, ts.runtime.Notifications().List())

	rr = ts.do(http.MethodGet, "/__offline/clients", "")
	var clients []ClientInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &clients))
	require.Len(t, clients, 1)
	assert.Equal(t, "/index.html", clients[0].URL)
	assert.True(t, clients[0].Controlled)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, "/__offline/notifications/unknown/click", "").Code)
}

func TestClientEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodPost, "/__offline/clients", `{"url":"https://panjika.example/index.html"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var client ClientInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &client))
	assert.False(t, client.Controlled)

	ts.register(t)
	clients := ts.runtime.ClientInfos()
	require.Len(t, clients, 1)
	assert.True(t, clients[0].Controlled)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/__offline/clients", `{}`).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/__offline/clients/"+client.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/__offline/clients/"+client.ID, "").Code)
}

func TestStateAndNamespaces(t *testing.T) {
	ts := newTestServer(t)
	handle, err := ts.storage.Open(context.Background(), "panjika-v1.0")
	require.NoError(t, err)
	require.NoError(t, handle.Put(context.Background(), cache.CacheEntry{Key: "GET:https://panjika.example/old.js", Bytes: []byte("x")}))

	rr := ts.do(http.MethodGet, "/__offline/state", "")
	assert.JSONEq(t, `{"state":"none","version":"v1.1","namespaces":["panjika-static-v1.1","panjika-fonts-v1.1","panjika-v1.1"]}`, rr.Body.String())

	ts.register(t)

	rr = ts.do(http.MethodGet, "/__offline/namespaces", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var namespaces []namespaceInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &namespaces))
	require.Len(t, namespaces, 1)
	assert.Equal(t, "panjika-static-v1.1", namespaces[0].Name)
	assert.True(t, namespaces[0].Current)
	assert.Equal(t, []string{ts.origin.URL + "/index.html"}, namespaces[0].Entries)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t)
	ts.do(http.MethodGet, "/app.js", "")

	rr := ts.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "offline_cache_events_total")
	assert.Contains(t, rr.Body.String(), "offline_cache_responses_total")
}

func TestCreateDirector(t *testing.T) {
	director := createDirector("https", "10.0.0.1", "panjika.example")

	relative := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	relative.URL.Host = ""
	director(relative)
	assert.Equal(t, "https://10.0.0.1/index.html", relative.URL.String())
	assert.Equal(t, "panjika.example", relative.Host)

	absolute := httptest.NewRequest(http.MethodGet, "https://fonts.gstatic.com/font.woff2", nil)
	director(absolute)
	assert.Equal(t, "https://fonts.gstatic.com/font.woff2", absolute.URL.String())
}
