package services

import (
	"context"
	"errors"
)

// OrderEventFanout delivers each event to every publisher and joins their failures.
type OrderEventFanout []OrderEventPublisher

func (f OrderEventFanout) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	var errs []error
	for _, publisher := range f {
		if publisher == nil {
			continue
		}
		if err := publisher.PublishOrderEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
