package offlinecache

import (
	"context"
	"fmt"
	"net/http"

	"github.com/always-cache/offline-cache/namespace"

	"golang.org/x/sync/errgroup"
)

// precacheConcurrency limits parallel fetches per namespace during install.
const precacheConcurrency = 4

// install pre-populates the static and font namespaces.
// Failing assets are logged and skipped; install itself only fails
// if the host refuses to skip waiting.
func (w *Worker) install(ctx context.Context) error {
	w.log.Info().Int("shell", len(w.appShell)).Int("fonts", len(w.fontAssets)).Msg("Installing")

	var g errgroup.Group
	g.Go(func() error {
		w.precache(ctx, w.registry.ID(namespace.Static), w.appShell)
		return nil
	})
	g.Go(func() error {
		w.precache(ctx, w.registry.ID(namespace.Fonts), w.fontAssets)
		return nil
	})
	g.Wait()

	if err := w.host.SkipWaiting(ctx); err != nil {
		return fmt.Errorf("skip waiting: %w", err)
	}
	return nil
}

// precache stores every asset it can fetch with status 200 and
// returns the number of stored assets.
func (w *Worker) precache(ctx context.Context, ns namespace.NamespaceId, assets []string) int {
	var g errgroup.Group
	g.SetLimit(precacheConcurrency)
	stored := make([]bool, len(assets))
	for i, asset := range assets {
		g.Go(func() error {
			if err := w.precacheAsset(ctx, ns, asset); err != nil {
				w.log.Warn().Err(err).Str("asset", asset).Str("namespace", ns.String()).Msg("Could not pre-cache asset")
				w.metrics.precache(ns, "failed")
				return nil
			}
			w.metrics.precache(ns, "stored")
			stored[i] = true
			return nil
		})
	}
	g.Wait()

	count := 0
	for _, ok := range stored {
		if ok {
			count++
		}
	}
	w.log.Debug().Str("namespace", ns.String()).Int("stored", count).Int("total", len(assets)).Msg("Pre-cached assets")
	return count
}

func (w *Worker) precacheAsset(ctx context.Context, ns namespace.NamespaceId, asset string) error {
	u, err := w.keyer.ResolveString(asset)
	if err != nil {
		return fmt.Errorf("parse asset url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	res, err := w.fetch(ctx, req)
	if err != nil {
		return err
	}
	defer closeBody(res)
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	return w.store(ctx, ns, req, res)
}

// activate deletes every namespace that is not current and then
// takes control of all open clients.
func (w *Worker) activate(ctx context.Context) error {
	names, err := w.storage.Namespaces(ctx)
	if err != nil {
		return fmt.Errorf("list namespaces: %w", err)
	}
	for _, name := range names {
		if w.registry.IsCurrent(name) {
			continue
		}
		w.log.Info().Str("namespace", name).Msg("Deleting obsolete namespace")
		if _, err := w.storage.Delete(ctx, name); err != nil {
			w.log.Error().Err(err).Str("namespace", name).Msg("Could not delete namespace")
			continue
		}
		w.metrics.namespaceDeleted()
	}

	if err := w.host.ClaimClients(ctx); err != nil {
		return fmt.Errorf("claim clients: %w", err)
	}
	w.log.Info().Msg("Activated")
	return nil
}
