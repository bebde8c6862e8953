package offlinecache

import (
	"net/http"
	"sync"
)

// EventKind names a host event the worker reacts to.
type EventKind string

const (
	EventInstall           EventKind = "install"
	EventActivate          EventKind = "activate"
	EventFetch             EventKind = "fetch"
	EventMessage           EventKind = "message"
	EventPush              EventKind = "push"
	EventNotificationClick EventKind = "notificationclick"
)

// Event is delivered by the host to Worker.Dispatch.
type Event interface {
	Kind() EventKind
}

type InstallEvent struct{}

func (InstallEvent) Kind() EventKind { return EventInstall }

type ActivateEvent struct{}

func (ActivateEvent) Kind() EventKind { return EventActivate }

// FetchEvent carries an intercepted request.
// If the worker does not call RespondWith, the host performs the request itself.
type FetchEvent struct {
	Request *http.Request

	mutex    sync.Mutex
	response *http.Response
}

func NewFetchEvent(r *http.Request) *FetchEvent {
	return &FetchEvent{Request: r}
}

func (*FetchEvent) Kind() EventKind { return EventFetch }

func (e *FetchEvent) RespondWith(res *http.Response) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.response = res
}

// Response returns the response set by RespondWith.
// The boolean is false if the event was not answered.
func (e *FetchEvent) Response() (*http.Response, bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.response, e.response != nil
}

// MessageEvent is a message posted by a client.
// Reply is nil when the client did not provide a reply channel.
type MessageEvent struct {
	Data  []byte
	Reply func(v any) error
}

func (*MessageEvent) Kind() EventKind { return EventMessage }

type PushEvent struct {
	Data []byte
}

func (*PushEvent) Kind() EventKind { return EventPush }

type NotificationClickEvent struct {
	Notification Notification
}

func (*NotificationClickEvent) Kind() EventKind { return EventNotificationClick }
