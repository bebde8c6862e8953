package host

import (
	"context"
	"sort"
	"sync"
	"time"

	offlinecache "github.com/always-cache/offline-cache"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NotificationInfo describes a shown notification.
type NotificationInfo struct {
	ID      string                           `json:"id"`
	Title   string                           `json:"title"`
	Options offlinecache.NotificationOptions `json:"options"`
	ShownAt time.Time                        `json:"shownAt"`
}

// NotificationCenter keeps the notifications shown by the worker
// until they are closed. It implements offlinecache.Notifier.
type NotificationCenter struct {
	log           zerolog.Logger
	mutex         sync.RWMutex
	notifications map[string]*notification
	seq           int
}

var _ offlinecache.Notifier = (*NotificationCenter)(nil)

func newNotificationCenter(logger zerolog.Logger) *NotificationCenter {
	return &NotificationCenter{
		log:           logger,
		notifications: make(map[string]*notification),
	}
}

type notification struct {
	center *NotificationCenter
	seq    int
	NotificationInfo
}

func (n *notification) Title() string { return n.NotificationInfo.Title }

func (n *notification) Close() error {
	n.center.mutex.Lock()
	delete(n.center.notifications, n.ID)
	n.center.mutex.Unlock()
	n.center.log.Debug().Str("notification", n.ID).Msg("Closed notification")
	return nil
}

// ShowNotification shows a notification. A notification with the same
// non-empty tag is replaced.
func (c *NotificationCenter) ShowNotification(ctx context.Context, title string, opts offlinecache.NotificationOptions) error {
	n := &notification{
		center: c,
		NotificationInfo: NotificationInfo{
			ID:      uuid.NewString(),
			Title:   title,
			Options: opts,
			ShownAt: time.Now(),
		},
	}

	c.mutex.Lock()
	c.seq++
	n.seq = c.seq
	if opts.Tag != "" {
		for id, other := range c.notifications {
			if other.Options.Tag == opts.Tag {
				delete(c.notifications, id)
			}
		}
	}
	c.notifications[n.ID] = n
	c.mutex.Unlock()

	c.log.Info().
		Str("notification", n.ID).
		Str("title", title).
		Str("body", opts.Body).
		Msg("Showing notification")
	return nil
}

// List returns the open notifications, oldest first.
func (c *NotificationCenter) List() []NotificationInfo {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	open := make([]*notification, 0, len(c.notifications))
	for _, n := range c.notifications {
		open = append(open, n)
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].seq < open[j].seq
	})
	infos := make([]NotificationInfo, 0, len(open))
	for _, n := range open {
		infos = append(infos, n.NotificationInfo)
	}
	return infos
}

func (c *NotificationCenter) get(id string) (*notification, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	n, ok := c.notifications[id]
	return n, ok
}
