package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/namespace"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"

	"github.com/rs/zerolog"
)

var ErrUnknownEvent = errors.New("unknown event")

const DefaultRootDocument = "/index.html"

type Config struct {
	// Storage for cached responses. Required.
	Storage cache.Storage
	// Current namespaces. Required.
	Registry *namespace.Registry
	// URL of the web application. Relative requests and asset paths
	// are resolved against it.
	OriginURL url.URL
	// Network transport. An HTTP client with a 10 second timeout is used if nil.
	Transport Transport
	// Host runtime. The worker runs detached (no clients) if nil.
	Host Host
	// Notification display. Push events are dropped if nil.
	Notifier Notifier
	// Classification rules. DefaultRules for the font hosts are used if nil.
	Rules []Rule
	// Font hosts used by the default rules.
	FontCSSHost  string
	FontFileHost string
	// Shell assets stored in the static namespace on install.
	AppShell []string
	// Font resources stored in the fonts namespace on install.
	FontAssets []string
	// Document served to offline navigations, DefaultRootDocument if empty.
	RootDocument string
	// Defaults for push notifications. Unset fields are taken from DefaultPushNotification().
	PushNotification PushNotification
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Metrics to record to. Nothing is recorded if nil.
	Metrics *Metrics
}

type handlerFunc func(ctx context.Context, ev Event) error

type Worker struct {
	storage      cache.Storage
	registry     *namespace.Registry
	keyer        cachekey.CacheKeyer
	transport    Transport
	host         Host
	notifier     Notifier
	rules        []Rule
	appShell     []string
	fontAssets   []string
	rootDocument string
	push         PushNotification
	log          zerolog.Logger
	metrics      *Metrics
	handlers     map[EventKind]handlerFunc
	// in-flight background revalidations
	revalidations sync.WaitGroup
	now           func() time.Time
}

// CreateWorker initializes a worker from the config.
func CreateWorker(config Config) (*Worker, error) {
	if config.Storage == nil {
		return nil, fmt.Errorf("worker config: storage is required")
	}
	if config.Registry == nil {
		return nil, fmt.Errorf("worker config: namespace registry is required")
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("cacheVersion", config.Registry.Version()).
		Logger()

	origin := config.OriginURL
	w := &Worker{
		storage:      config.Storage,
		registry:     config.Registry,
		keyer:        cachekey.NewCacheKeyer(&origin),
		transport:    config.Transport,
		host:         config.Host,
		notifier:     config.Notifier,
		rules:        config.Rules,
		appShell:     config.AppShell,
		fontAssets:   config.FontAssets,
		rootDocument: config.RootDocument,
		push:         config.PushNotification,
		log:          logger,
		metrics:      config.Metrics,
		now:          time.Now,
	}
	if w.transport == nil {
		w.transport = NewHTTPTransport(HTTPTransportConfig{})
	}
	if w.host == nil {
		w.host = detachedHost{}
	}
	if w.rules == nil {
		fontCSSHost, fontFileHost := config.FontCSSHost, config.FontFileHost
		if fontCSSHost == "" {
			fontCSSHost = DefaultFontCSSHost
		}
		if fontFileHost == "" {
			fontFileHost = DefaultFontFileHost
		}
		w.rules = DefaultRules(fontCSSHost, fontFileHost)
	}
	if w.rootDocument == "" {
		w.rootDocument = DefaultRootDocument
	}
	w.push = w.push.withDefaults()

	w.handlers = map[EventKind]handlerFunc{
		EventInstall: func(ctx context.Context, ev Event) error {
			return w.install(ctx)
		},
		EventActivate: func(ctx context.Context, ev Event) error {
			return w.activate(ctx)
		},
		EventFetch: func(ctx context.Context, ev Event) error {
			fe, ok := ev.(*FetchEvent)
			if !ok {
				return unexpectedEvent(ev)
			}
			w.handleFetch(ctx, fe)
			return nil
		},
		EventMessage: func(ctx context.Context, ev Event) error {
			me, ok := ev.(*MessageEvent)
			if !ok {
				return unexpectedEvent(ev)
			}
			return w.handleMessage(ctx, me)
		},
		EventPush: func(ctx context.Context, ev Event) error {
			pe, ok := ev.(*PushEvent)
			if !ok {
				return unexpectedEvent(ev)
			}
			return w.handlePush(ctx, pe)
		},
		EventNotificationClick: func(ctx context.Context, ev Event) error {
			ne, ok := ev.(*NotificationClickEvent)
			if !ok {
				return unexpectedEvent(ev)
			}
			return w.handleNotificationClick(ctx, ne)
		},
	}

	return w, nil
}

func unexpectedEvent(ev Event) error {
	return fmt.Errorf("%w: %T for kind %s", ErrUnknownEvent, ev, ev.Kind())
}

// Dispatch delivers a host event to its handler.
func (w *Worker) Dispatch(ctx context.Context, ev Event) error {
	handler, ok := w.handlers[ev.Kind()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Kind())
	}
	w.metrics.event(ev.Kind())
	w.log.Trace().Str("event", string(ev.Kind())).Msg("Dispatching event")
	return handler(ctx, ev)
}

// Registry returns the namespaces this worker considers current.
func (w *Worker) Registry() *namespace.Registry {
	return w.registry
}

// Drain waits for background revalidations to finish.
// It is meant for graceful shutdown only.
func (w *Worker) Drain() {
	w.revalidations.Wait()
}

// handleFetch answers GET requests. Other methods are left to the host.
func (w *Worker) handleFetch(ctx context.Context, ev *FetchEvent) {
	if ev.Request.Method != http.MethodGet {
		return
	}
	ev.RespondWith(w.respond(ctx, ev.Request))
}

// respond runs the strategy selected for the request.
// It always returns a response.
func (w *Worker) respond(ctx context.Context, r *http.Request) (res *http.Response) {
	req := w.normalize(ctx, r)
	route := fallbackRoute
	ns := w.registry.ID(route.Partition)
	defer func() {
		if p := recover(); p != nil {
			w.log.Error().Interface("panic", p).Str("url", req.URL.String()).Msg("Recovered while handling request")
			res = w.recoveredFallback(ctx, route.Strategy, ns, req)
		}
	}()

	route = Classify(w.rules, req)
	ns = w.registry.ID(route.Partition)
	w.log.Trace().
		Str("url", req.URL.String()).
		Str("rule", route.Rule).
		Str("strategy", route.Strategy.String()).
		Str("namespace", ns.String()).
		Msg("Classified request")

	switch route.Strategy {
	case CacheFirst:
		return w.cacheFirst(ctx, req, ns)
	case StaleWhileRevalidate:
		return w.staleWhileRevalidate(ctx, req, ns)
	default:
		return w.networkFirst(ctx, req, ns)
	}
}

// recoveredFallback runs the offline fallback after a panic.
// If the fallback panics as well, the synthetic response is returned.
func (w *Worker) recoveredFallback(ctx context.Context, s Strategy, ns namespace.NamespaceId, req *http.Request) (res *http.Response) {
	defer func() {
		if p := recover(); p != nil {
			w.log.Error().Interface("panic", p).Str("url", req.URL.String()).Msg("Recovered in offline fallback")
			res = unavailable(req)
		}
	}()
	return w.offlineFallback(ctx, s, ns, req)
}

// normalize returns a copy of the request with an absolute URL,
// suitable for sending with the transport.
func (w *Worker) normalize(ctx context.Context, r *http.Request) *http.Request {
	req := r.Clone(ctx)
	u := *w.keyer.Resolve(r)
	req.URL = &u
	req.Host = u.Host
	req.RequestURI = ""
	return req
}
