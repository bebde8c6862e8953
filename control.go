package offlinecache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/always-cache/offline-cache/namespace"
)

// Control message types.
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageGetVersion  = "GET_VERSION"
)

type controlMessage struct {
	Type string `json:"type"`
}

// VersionReply answers a GET_VERSION message.
type VersionReply struct {
	Version string `json:"version"`
}

// handleMessage handles the control messages. Anything it does not
// recognize, including malformed messages, is ignored.
func (w *Worker) handleMessage(ctx context.Context, ev *MessageEvent) error {
	var msg controlMessage
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		w.log.Trace().Err(err).Msg("Ignoring malformed message")
		return nil
	}

	switch msg.Type {
	case MessageSkipWaiting:
		w.log.Debug().Msg("Skip waiting requested by client")
		if err := w.host.SkipWaiting(ctx); err != nil {
			return fmt.Errorf("skip waiting: %w", err)
		}
	case MessageGetVersion:
		if ev.Reply == nil {
			w.log.Debug().Msg("Version requested without reply channel")
			return nil
		}
		if err := ev.Reply(VersionReply{Version: w.registry.ID(namespace.Generic).String()}); err != nil {
			return fmt.Errorf("reply with version: %w", err)
		}
	default:
		w.log.Trace().Str("type", msg.Type).Msg("Ignoring unknown message")
	}
	return nil
}
