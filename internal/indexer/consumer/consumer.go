// Package consumer reacts to index complete notifications by reloading the
// query service's snapshot.
package consumer

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/hybrid-search/pkg/kafka"
)

// Reloader is the part of the executor the consumer drives.
type Reloader interface {
	Reload(dataDir string) (*executor.Snapshot, error)
}

// Invalidator drops cached results after a reload. It may be nil.
type Invalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

// HandleIndexComplete returns a handler that reloads dataDir for every
// index complete event. Undecodable messages are logged and skipped; a
// failed reload is returned so the message is not committed.
func HandleIndexComplete(reloader Reloader, dataDir string, cache Invalidator) kafka.MessageHandler {
	logger := slog.Default().With("component", "reload-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[indexer.IndexCompleteEvent](value)
		if err != nil {
			logger.Error("failed to decode index complete event", "key", string(key), "error", err)
			return nil
		}
		snap, err := reloader.Reload(dataDir)
		if err != nil {
			return err
		}
		if cache != nil {
			if _, err := cache.Invalidate(ctx); err != nil {
				logger.Warn("cache invalidation after reload failed", "error", err)
			}
		}
		logger.Info("snapshot reloaded from notification",
			"announced_version", event.LexicalVersion,
			"loaded_version", snap.Version,
			"documents", event.Documents,
		)
		return nil
	}
}
