package analytics

import (
	"context"
	"net/http"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
)

// Publisher sends keyed events to one topic. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// PublishSearchEvents sends events in one write, each keyed by its site.
// Events without a type are sent as plain searches.
func PublishSearchEvents(ctx context.Context, p Publisher, events []SearchEvent) error {
	if len(events) == 0 {
		return nil
	}
	out := make([]kafka.Event, 0, len(events))
	for _, e := range events {
		if e.Type == "" {
			e.Type = EventSearch
		}
		out = append(out, kafka.Event{Key: e.Site, Value: e})
	}
	return p.Publish(ctx, out...)
}

// AnnounceIndex tells every docsearch instance that site has a new build.
// A zero PublishedAt is stamped with the current time.
func AnnounceIndex(ctx context.Context, p Publisher, event IndexPublishedEvent) (IndexPublishedEvent, error) {
	if event.Site == "" {
		return event, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "index announcement needs a site")
	}
	if event.PublishedAt.IsZero() {
		event.PublishedAt = time.Now().UTC()
	}
	return event, p.Publish(ctx, kafka.Event{Key: event.Site, Value: event})
}
