package acquisition

import (
	"context"

	"bookbag/internal/logging"
	"bookbag/internal/notifications"
	"bookbag/internal/store"
)

func (m *Machine) publish(ctx context.Context, event notifications.Event, item *store.CatalogItem, kind store.Kind, payload notifications.Payload) {
	if payload == nil {
		payload = notifications.Payload{}
	}
	if item != nil {
		payload["title"] = item.Title
		payload["author"] = item.AuthorName
	}
	payload["kind"] = string(kind)
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		m.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
