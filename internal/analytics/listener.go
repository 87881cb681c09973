package analytics

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
)

// Reloader swaps in a fresh index for a site. *catalog.Catalog satisfies it.
type Reloader interface {
	Reload(ctx context.Context, site string) (*catalog.Entry, error)
}

// HandleIndexPublished reloads the announced site. Undecodable messages and
// unknown sites are logged and acknowledged; a failed reload is returned so
// the message is not committed.
func HandleIndexPublished(reloader Reloader) kafka.MessageHandler {
	logger := slog.Default().With("component", "rebuild-listener")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[IndexPublishedEvent](value)
		if err != nil || event.Site == "" {
			logger.Error("ignoring malformed index-published message", "key", string(key), "error", err)
			return nil
		}
		entry, err := reloader.Reload(ctx, event.Site)
		if err != nil {
			if errors.Is(err, catalog.ErrUnknownSite) {
				logger.Warn("index published for unknown site", "site", event.Site, "error", err)
				return nil
			}
			return err
		}
		logger.Info("site reloaded from notification",
			"site", event.Site,
			"build_id", event.BuildID,
			"generation", entry.Generation,
		)
		return nil
	}
}

// HandleSearchEvent feeds search events consumed from the analytics topic
// into agg. Events of other types are acknowledged and skipped.
func HandleSearchEvent(agg *Aggregator) kafka.MessageHandler {
	logger := slog.Default().With("component", "analytics-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[SearchEvent](value)
		if err != nil {
			logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		if event.Type != EventSearch {
			return nil
		}
		agg.Record(event)
		return nil
	}
}
