package offlinecache

import (
	"context"
	"net/http"
	"testing"

	"github.com/always-cache/offline-cache/cache"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncEvent struct{}

func (syncEvent) Kind() EventKind { return "sync" }

type mislabeledEvent struct{}

func (mislabeledEvent) Kind() EventKind { return EventFetch }

func TestUnknownEvent(t *testing.T) {
	tw := newTestWorker(t)
	assert.ErrorIs(t, tw.Dispatch(context.Background(), syncEvent{}), ErrUnknownEvent)
	assert.ErrorIs(t, tw.Dispatch(context.Background(), mislabeledEvent{}), ErrUnknownEvent)
}

func TestCreateWorkerValidation(t *testing.T) {
	logger := zerolog.Nop()
	_, err := CreateWorker(Config{Registry: testRegistry(t), Logger: &logger})
	assert.ErrorContains(t, err, "storage")

	_, err = CreateWorker(Config{Storage: cache.NewMemStorage(), Logger: &logger})
	assert.ErrorContains(t, err, "registry")

	w, err := CreateWorker(Config{Storage: cache.NewMemStorage(), Registry: testRegistry(t), Logger: &logger})
	require.NoError(t, err)
	assert.Equal(t, DefaultRootDocument, w.rootDocument)
	assert.Len(t, w.rules, 4)
	assert.NotNil(t, w.transport)
	assert.NotNil(t, w.host)
}

func TestDetachedWorker(t *testing.T) {
	logger := zerolog.Nop()
	w, err := CreateWorker(Config{
		Storage:   cache.NewMemStorage(),
		Registry:  testRegistry(t),
		Transport: newFakeNetwork(),
		Logger:    &logger,
	})
	require.NoError(t, err)
	assert.NoError(t, w.Dispatch(context.Background(), InstallEvent{}))
	assert.NoError(t, w.Dispatch(context.Background(), ActivateEvent{}))
	assert.ErrorIs(t, w.Dispatch(context.Background(), &NotificationClickEvent{}), errNoHost)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	metrics := NewMetrics(reg)
	tw := newTestWorker(t, func(c *Config) {
		c.Metrics = metrics
	})
	tw.network.serve(fontFile, "font")

	tw.get(t, fontFile)
	tw.get(t, fontFile)
	tw.network.setOffline(true)
	tw.get(t, apiTithi)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.events.WithLabelValues("fetch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.responses.WithLabelValues("cache-first", "panjika-fonts-v1.1", "network")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.responses.WithLabelValues("cache-first", "panjika-fonts-v1.1", "cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.responses.WithLabelValues("network-first", "panjika-v1.1", "fallback")))

	putEntry(t, tw.storage, "panjika-v1.0", "GET:"+apiTithi)
	require.NoError(t, tw.Dispatch(context.Background(), ActivateEvent{}))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.namespacesDeleted))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.event(EventFetch)
	m.revalidation("stored")
	m.namespaceDeleted()
}

func TestFetchEventResponse(t *testing.T) {
	ev := NewFetchEvent(&http.Request{Method: http.MethodGet})
	_, ok := ev.Response()
	assert.False(t, ok)
	ev.RespondWith(&http.Response{StatusCode: http.StatusOK})
	res, ok := ev.Response()
	assert.True(t, ok)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
