package offlinecache

import (
	"context"
	"errors"
	"net/http"
)

// Transport performs network requests.
// An error means the network could not be reached;
// any HTTP response, whatever its status, is a success.
type Transport interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

type TransportFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f TransportFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// Host is the runtime the worker lives in. It fires the events
// and owns the clients (open pages) the worker serves.
type Host interface {
	// SkipWaiting lets the worker activate without waiting
	// for clients of a previous version to go away.
	SkipWaiting(ctx context.Context) error
	// ClaimClients makes the worker the controller of all open clients.
	ClaimClients(ctx context.Context) error
	Clients(ctx context.Context, filter ClientFilter) ([]Client, error)
	OpenWindow(ctx context.Context, url string) (Client, error)
}

type ClientType string

const (
	ClientWindow ClientType = "window"
	ClientWorker ClientType = "worker"
	ClientAll    ClientType = "all"
)

type ClientFilter struct {
	Type                ClientType
	IncludeUncontrolled bool
}

type Client interface {
	ID() string
	URL() string
	Type() ClientType
	Focus(ctx context.Context) error
}

// Notifier displays notifications to the user.
type Notifier interface {
	ShowNotification(ctx context.Context, title string, opts NotificationOptions) error
}

type NotificationOptions struct {
	Body    string `json:"body,omitempty" yaml:"body"`
	Icon    string `json:"icon,omitempty" yaml:"icon"`
	Badge   string `json:"badge,omitempty" yaml:"badge"`
	Vibrate []int  `json:"vibrate,omitempty" yaml:"vibrate"`
	Lang    string `json:"lang,omitempty" yaml:"lang"`
	Tag     string `json:"tag,omitempty" yaml:"tag"`
}

// Notification is a displayed notification, as passed with click events.
type Notification interface {
	Title() string
	Close() error
}

var errNoHost = errors.New("worker has no host")

// detachedHost is used when the worker is not attached to a host, e.g. in tests.
type detachedHost struct{}

func (detachedHost) SkipWaiting(ctx context.Context) error { return nil }
func (detachedHost) ClaimClients(ctx context.Context) error { return nil }
func (detachedHost) Clients(ctx context.Context, filter ClientFilter) ([]Client, error) {
	return nil, nil
}
func (detachedHost) OpenWindow(ctx context.Context, url string) (Client, error) {
	return nil, errNoHost
}
