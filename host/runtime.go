// Package host runs a worker the way a browser runs a service worker:
// it drives the install and activate lifecycle, keeps track of clients
// and notifications and delivers fetch, message and push events.
package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	offlinecache "github.com/always-cache/offline-cache"

	"github.com/rs/zerolog"
)

var (
	ErrNoWorker            = errors.New("no worker registered")
	ErrAlreadyRegistered   = errors.New("worker already registered")
	ErrUnknownClient       = errors.New("unknown client")
	ErrUnknownNotification = errors.New("unknown notification")
)

// State is the lifecycle state of the registered worker.
type State string

const (
	StateNone       State = "none"
	StateInstalling State = "installing"
	StateWaiting    State = "waiting"
	StateActivating State = "activating"
	StateActive     State = "active"
	StateRedundant  State = "redundant"
)

// Dispatcher receives host events. *offlinecache.Worker implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev offlinecache.Event) error
}

type Config struct {
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Runtime hosts a single worker. It implements offlinecache.Host.
type Runtime struct {
	log           zerolog.Logger
	notifications *NotificationCenter

	mutex       sync.Mutex
	worker      Dispatcher
	state       State
	skipWaiting bool
	clients     *clientRegistry
}

var _ offlinecache.Host = (*Runtime)(nil)

func NewRuntime(config Config) *Runtime {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().Str("component", "host").Logger()

	return &Runtime{
		log:           logger,
		notifications: newNotificationCenter(logger),
		state:         StateNone,
		clients:       newClientRegistry(),
	}
}

// Notifications returns the notification center to pass to the worker as its notifier.
func (rt *Runtime) Notifications() *NotificationCenter {
	return rt.notifications
}

func (rt *Runtime) State() State {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	return rt.state
}

func (rt *Runtime) setState(s State) {
	rt.mutex.Lock()
	rt.state = s
	rt.mutex.Unlock()
	rt.log.Info().Str("state", string(s)).Msg("Worker state changed")
}

// Register installs the worker and, if it asks to skip waiting, activates it.
// A worker whose install fails becomes redundant.
// Events are never dispatched while the runtime lock is held,
// so handlers may call back into the runtime.
func (rt *Runtime) Register(ctx context.Context, worker Dispatcher) error {
	rt.mutex.Lock()
	if rt.worker != nil {
		rt.mutex.Unlock()
		return ErrAlreadyRegistered
	}
	rt.worker = worker
	rt.mutex.Unlock()

	rt.setState(StateInstalling)
	if err := worker.Dispatch(ctx, offlinecache.InstallEvent{}); err != nil {
		rt.setState(StateRedundant)
		return fmt.Errorf("install: %w", err)
	}

	rt.mutex.Lock()
	proceed := rt.skipWaiting
	if proceed {
		rt.state = StateActivating
	} else {
		rt.state = StateWaiting
	}
	rt.mutex.Unlock()

	if !proceed {
		rt.log.Info().Str("state", string(StateWaiting)).Msg("Worker installed, waiting")
		return nil
	}
	rt.activate(ctx)
	return nil
}

// activate runs the activate event. A failing activate handler
// does not prevent the worker from becoming active.
func (rt *Runtime) activate(ctx context.Context) {
	rt.log.Info().Str("state", string(StateActivating)).Msg("Worker state changed")
	if err := rt.dispatcher().Dispatch(ctx, offlinecache.ActivateEvent{}); err != nil {
		rt.log.Error().Err(err).Msg("Activation failed")
	}
	rt.setState(StateActive)
}

func (rt *Runtime) dispatcher() Dispatcher {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	return rt.worker
}

// live returns the worker if it can receive functional events.
func (rt *Runtime) live() (Dispatcher, State, error) {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	if rt.worker == nil || rt.state == StateRedundant {
		return nil, rt.state, ErrNoWorker
	}
	return rt.worker, rt.state, nil
}

// SkipWaiting lets the worker activate without waiting.
// Called while installing, activation follows the install;
// called while waiting, the worker is activated right away.
func (rt *Runtime) SkipWaiting(ctx context.Context) error {
	rt.mutex.Lock()
	rt.skipWaiting = true
	activateNow := rt.state == StateWaiting
	if activateNow {
		rt.state = StateActivating
	}
	rt.mutex.Unlock()

	if activateNow {
		rt.activate(ctx)
	}
	return nil
}

// ClaimClients makes the worker control every open client.
func (rt *Runtime) ClaimClients(ctx context.Context) error {
	n := rt.clients.claimAll()
	rt.log.Debug().Int("clients", n).Msg("Claimed clients")
	return nil
}

func (rt *Runtime) Clients(ctx context.Context, filter offlinecache.ClientFilter) ([]offlinecache.Client, error) {
	matching := rt.clients.list(filter)
	clients := make([]offlinecache.Client, 0, len(matching))
	for _, c := range matching {
		clients = append(clients, c)
	}
	return clients, nil
}

// OpenWindow opens a new window client. It is controlled if the worker is active.
func (rt *Runtime) OpenWindow(ctx context.Context, url string) (offlinecache.Client, error) {
	c := rt.clients.add(url, offlinecache.ClientWindow, rt.State() == StateActive)
	c.focus()
	rt.log.Info().Str("client", c.ID()).Str("url", url).Msg("Opened window")
	return c, nil
}

// Connect registers a client loaded by the user, e.g. a browser tab.
func (rt *Runtime) Connect(url string, typ offlinecache.ClientType) ClientInfo {
	c := rt.clients.add(url, typ, rt.State() == StateActive)
	rt.log.Debug().Str("client", c.ID()).Str("url", url).Msg("Client connected")
	return c.info()
}

// Disconnect removes a client.
func (rt *Runtime) Disconnect(id string) error {
	if !rt.clients.remove(id) {
		return fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	rt.log.Debug().Str("client", id).Msg("Client disconnected")
	return nil
}

// ClientInfos lists all clients.
func (rt *Runtime) ClientInfos() []ClientInfo {
	all := rt.clients.list(offlinecache.ClientFilter{Type: offlinecache.ClientAll, IncludeUncontrolled: true})
	infos := make([]ClientInfo, 0, len(all))
	for _, c := range all {
		infos = append(infos, c.info())
	}
	return infos
}

// Fetch delivers a fetch event to the active worker.
// The boolean is false if the request should go to the network as is:
// no worker is active or the worker did not answer.
func (rt *Runtime) Fetch(ctx context.Context, r *http.Request) (*http.Response, bool) {
	worker, state, err := rt.live()
	if err != nil || state != StateActive {
		return nil, false
	}
	ev := offlinecache.NewFetchEvent(r)
	if err := worker.Dispatch(ctx, ev); err != nil {
		rt.log.Error().Err(err).Str("url", r.URL.String()).Msg("Fetch event failed")
		return nil, false
	}
	return ev.Response()
}

// PostMessage delivers a client message. It returns the reply of the worker, if any.
func (rt *Runtime) PostMessage(ctx context.Context, data []byte) (any, bool, error) {
	worker, _, err := rt.live()
	if err != nil {
		return nil, false, err
	}
	var (
		reply   any
		replied bool
	)
	ev := &offlinecache.MessageEvent{
		Data: data,
		Reply: func(v any) error {
			reply, replied = v, true
			return nil
		},
	}
	if err := worker.Dispatch(ctx, ev); err != nil {
		return nil, false, fmt.Errorf("message: %w", err)
	}
	return reply, replied, nil
}

// Push delivers a push message.
func (rt *Runtime) Push(ctx context.Context, data []byte) error {
	worker, _, err := rt.live()
	if err != nil {
		return err
	}
	if err := worker.Dispatch(ctx, &offlinecache.PushEvent{Data: data}); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}

// ClickNotification delivers a click on a shown notification.
func (rt *Runtime) ClickNotification(ctx context.Context, id string) error {
	n, ok := rt.notifications.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNotification, id)
	}
	worker, _, err := rt.live()
	if err != nil {
		return err
	}
	if err := worker.Dispatch(ctx, &offlinecache.NotificationClickEvent{Notification: n}); err != nil {
		return fmt.Errorf("notification click: %w", err)
	}
	return nil
}
