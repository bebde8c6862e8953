package offlinecache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/namespace"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testOrigin = "https://panjika.example"

var errOffline = errors.New("network unreachable")

type page struct {
	status      int
	body        string
	contentType string
}

// fakeNetwork serves fixed pages by absolute URL and counts requests.
type fakeNetwork struct {
	mutex   sync.Mutex
	pages   map[string]page
	calls   map[string]int
	offline bool
	// if set, fetches block until it is closed
	gate chan struct{}
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		pages: make(map[string]page),
		calls: make(map[string]int),
	}
}

func (n *fakeNetwork) serve(rawURL, body string) {
	n.serveStatus(rawURL, http.StatusOK, body)
}

func (n *fakeNetwork) serveStatus(rawURL string, status int, body string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.pages[rawURL] = page{status: status, body: body, contentType: "text/plain"}
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.offline = offline
}

func (n *fakeNetwork) callsTo(rawURL string) int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.calls[rawURL]
}

func (n *fakeNetwork) totalCalls() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	total := 0
	for _, c := range n.calls {
		total += c
	}
	return total
}

func (n *fakeNetwork) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	n.mutex.Lock()
	n.calls[req.URL.String()]++
	gate := n.gate
	n.mutex.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	n.mutex.Lock()
	defer n.mutex.Unlock()
	if n.offline {
		return nil, errOffline
	}
	p, ok := n.pages[req.URL.String()]
	if !ok {
		p = page{status: http.StatusNotFound, body: "not found", contentType: "text/plain"}
	}
	header := http.Header{}
	header.Set("Content-Type", p.contentType)
	return &http.Response{
		Status:        http.StatusText(p.status),
		StatusCode:    p.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(p.body)),
		ContentLength: int64(len(p.body)),
		Request:       req,
	}, nil
}

type fakeClient struct {
	id      string
	url     string
	focused int
}

func (c *fakeClient) ID() string { return c.id }
func (c *fakeClient) URL() string { return c.url }
func (c *fakeClient) Type() ClientType { return ClientWindow }
func (c *fakeClient) Focus(context.Context) error {
	c.focused++
	return nil
}

type fakeHost struct {
	mutex       sync.Mutex
	skipWaiting int
	claims      int
	clients     []*fakeClient
	opened      []string
	filters     []ClientFilter
}

func (h *fakeHost) SkipWaiting(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.skipWaiting++
	return nil
}

func (h *fakeHost) ClaimClients(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.claims++
	return nil
}

func (h *fakeHost) Clients(ctx context.Context, filter ClientFilter) ([]Client, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.filters = append(h.filters, filter)
	clients := make([]Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	return clients, nil
}

func (h *fakeHost) OpenWindow(ctx context.Context, url string) (Client, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.opened = append(h.opened, url)
	c := &fakeClient{id: "new", url: url}
	h.clients = append(h.clients, c)
	return c, nil
}

type shownNotification struct {
	title string
	opts  NotificationOptions
}

type fakeNotifier struct {
	shown []shownNotification
}

func (n *fakeNotifier) ShowNotification(ctx context.Context, title string, opts NotificationOptions) error {
	n.shown = append(n.shown, shownNotification{title, opts})
	return nil
}

func testRegistry(t *testing.T) *namespace.Registry {
	t.Helper()
	r, err := namespace.NewRegistry("v1.1", namespace.Prefixes{
		Static:  "panjika-static",
		Fonts:   "panjika-fonts",
		Generic: "panjika",
	})
	require.NoError(t, err)
	return r
}

type testWorker struct {
	*Worker
	network  *fakeNetwork
	host     *fakeHost
	notifier *fakeNotifier
	storage  cache.Storage
}

func newTestWorker(t *testing.T, modify ...func(*Config)) testWorker {
	t.Helper()
	origin, _ := url.Parse(testOrigin)
	logger := zerolog.Nop()
	tw := testWorker{
		network:  newFakeNetwork(),
		host:     &fakeHost{},
		notifier: &fakeNotifier{},
		storage:  cache.NewMemStorage(),
	}
	config := Config{
		Storage:   tw.storage,
		Registry:  testRegistry(t),
		OriginURL: *origin,
		Transport: tw.network,
		Host:      tw.host,
		Notifier:  tw.notifier,
		Logger:    &logger,
	}
	for _, m := range modify {
		m(&config)
	}
	w, err := CreateWorker(config)
	require.NoError(t, err)
	tw.Worker = w
	t.Cleanup(w.Drain)
	return tw
}

// fetch dispatches a fetch event and returns the response the worker answered with.
func (tw testWorker) fetch(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	ev := NewFetchEvent(req)
	require.NoError(t, tw.Dispatch(context.Background(), ev))
	res, ok := ev.Response()
	require.True(t, ok, "fetch event was not answered")
	return res
}

func (tw testWorker) get(t *testing.T, target string) *http.Response {
	t.Helper()
	return tw.fetch(t, httptest.NewRequest(http.MethodGet, target, nil))
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(body)
}

// stored returns the body stored for the URL in the namespace, if any.
func (tw testWorker) stored(t *testing.T, ns namespace.NamespaceId, target string) (string, bool) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	res, ok := tw.lookup(context.Background(), ns, tw.normalize(context.Background(), req))
	if !ok {
		return "", false
	}
	return readBody(t, res), true
}
