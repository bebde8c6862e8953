package offlinecache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// PushNotification holds the defaults for notifications shown on push.
type PushNotification struct {
	Title   string              `yaml:"title"`
	Options NotificationOptions `yaml:"options"`
}

// withDefaults fills unset fields from DefaultPushNotification.
func (p PushNotification) withDefaults() PushNotification {
	d := DefaultPushNotification()
	if p.Title == "" {
		p.Title = d.Title
	}
	if p.Options.Body == "" {
		p.Options.Body = d.Options.Body
	}
	if p.Options.Icon == "" {
		p.Options.Icon = d.Options.Icon
	}
	if p.Options.Badge == "" {
		p.Options.Badge = d.Options.Badge
	}
	if len(p.Options.Vibrate) == 0 {
		p.Options.Vibrate = d.Options.Vibrate
	}
	if p.Options.Lang == "" {
		p.Options.Lang = d.Options.Lang
	}
	return p
}

func DefaultPushNotification() PushNotification {
	return PushNotification{
		Title: "বাংলা পঞ্জিকা",
		Options: NotificationOptions{
			Body:    "আজকের পঞ্জিকা আপডেট",
			Icon:    "/icons/icon-192x192.png",
			Badge:   "/icons/icon-72x72.png",
			Vibrate: []int{100, 50, 100},
			Lang:    "bn",
		},
	}
}

type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// handlePush shows a notification for a JSON payload.
// Payloads that are missing or not JSON are dropped.
func (w *Worker) handlePush(ctx context.Context, ev *PushEvent) error {
	if len(ev.Data) == 0 {
		w.log.Debug().Msg("Ignoring push without payload")
		return nil
	}
	var payload pushPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		w.log.Debug().Err(err).Msg("Ignoring push with malformed payload")
		return nil
	}
	if w.notifier == nil {
		w.log.Warn().Msg("No notifier, dropping push notification")
		return nil
	}

	title := w.push.Title
	if payload.Title != "" {
		title = payload.Title
	}
	opts := w.push.Options
	opts.Vibrate = append([]int(nil), opts.Vibrate...)
	if payload.Body != "" {
		opts.Body = payload.Body
	}
	if err := w.notifier.ShowNotification(ctx, title, opts); err != nil {
		return fmt.Errorf("show notification: %w", err)
	}
	return nil
}

// handleNotificationClick closes the notification and brings the app
// to the front: an open index window if there is one, a new window otherwise.
func (w *Worker) handleNotificationClick(ctx context.Context, ev *NotificationClickEvent) error {
	if ev.Notification != nil {
		if err := ev.Notification.Close(); err != nil {
			w.log.Debug().Err(err).Msg("Could not close notification")
		}
	}

	clients, err := w.host.Clients(ctx, ClientFilter{Type: ClientWindow, IncludeUncontrolled: true})
	if err != nil {
		return fmt.Errorf("list clients: %w", err)
	}
	for _, client := range clients {
		if strings.Contains(client.URL(), "index") {
			w.log.Debug().Str("client", client.ID()).Msg("Focusing client")
			return client.Focus(ctx)
		}
	}

	w.log.Debug().Str("url", w.rootDocument).Msg("Opening window")
	if _, err := w.host.OpenWindow(ctx, w.rootDocument); err != nil {
		return fmt.Errorf("open window: %w", err)
	}
	return nil
}
