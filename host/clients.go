package host

import (
	"context"
	"sort"
	"sync"
	"time"

	offlinecache "github.com/always-cache/offline-cache"

	"github.com/google/uuid"
)

// ClientInfo describes a client.
type ClientInfo struct {
	ID          string                  `json:"id"`
	URL         string                  `json:"url"`
	Type        offlinecache.ClientType `json:"type"`
	Controlled  bool                    `json:"controlled"`
	ConnectedAt time.Time               `json:"connectedAt"`
	FocusedAt   *time.Time              `json:"focusedAt,omitempty"`
}

type client struct {
	registry    *clientRegistry
	id          string
	url         string
	typ         offlinecache.ClientType
	connectedAt time.Time
	seq         int
}

func (c *client) ID() string                    { return c.id }
func (c *client) URL() string                   { return c.url }
func (c *client) Type() offlinecache.ClientType { return c.typ }

func (c *client) Focus(ctx context.Context) error {
	c.focus()
	return nil
}

func (c *client) focus() {
	c.registry.mutex.Lock()
	defer c.registry.mutex.Unlock()
	c.registry.focused[c.id] = time.Now()
}

func (c *client) info() ClientInfo {
	c.registry.mutex.RLock()
	defer c.registry.mutex.RUnlock()
	info := ClientInfo{
		ID:          c.id,
		URL:         c.url,
		Type:        c.typ,
		Controlled:  c.registry.controlled[c.id],
		ConnectedAt: c.connectedAt,
	}
	if t, ok := c.registry.focused[c.id]; ok {
		info.FocusedAt = &t
	}
	return info
}

// clientRegistry holds the open clients in connection order.
type clientRegistry struct {
	mutex      sync.RWMutex
	clients    map[string]*client
	controlled map[string]bool
	focused    map[string]time.Time
	seq        int
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{
		clients:    make(map[string]*client),
		controlled: make(map[string]bool),
		focused:    make(map[string]time.Time),
	}
}

func (r *clientRegistry) add(url string, typ offlinecache.ClientType, controlled bool) *client {
	if typ == "" || typ == offlinecache.ClientAll {
		typ = offlinecache.ClientWindow
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.seq++
	c := &client{
		registry:    r,
		id:          uuid.NewString(),
		url:         url,
		typ:         typ,
		connectedAt: time.Now(),
		seq:         r.seq,
	}
	r.clients[c.id] = c
	r.controlled[c.id] = controlled
	return c
}

func (r *clientRegistry) remove(id string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	delete(r.controlled, id)
	delete(r.focused, id)
	return true
}

func (r *clientRegistry) claimAll() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for id := range r.clients {
		r.controlled[id] = true
	}
	return len(r.clients)
}

func (r *clientRegistry) list(filter offlinecache.ClientFilter) []*client {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	var matching []*client
	for id, c := range r.clients {
		if filter.Type != "" && filter.Type != offlinecache.ClientAll && filter.Type != c.typ {
			continue
		}
		if !filter.IncludeUncontrolled && !r.controlled[id] {
			continue
		}
		matching = append(matching, c)
	}
	sort.Slice(matching, func(i, j int) bool {
		return matching[i].seq < matching[j].seq
	})
	return matching
}
