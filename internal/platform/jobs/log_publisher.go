package jobs

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/YunomiXavia/beQuanTri/internal/platform/observability"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

// LogNotifier records notifications in the service log. It is used when no Pub/Sub project is
// configured, typically during local development.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a services.Notifier that only logs.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notifier")}
}

// Notify logs the message with a masked address. An empty address is still rejected so callers
// see the same contract as the Pub/Sub notifier.
func (n *LogNotifier) Notify(_ context.Context, address, subject, body string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return errors.New("log notifier: address is required")
	}
	n.logger.Info("notification queued",
		zap.String("address", observability.MaskContact(address)),
		zap.String("subject", subject),
		zap.Int("bodyLength", len(body)),
	)
	return nil
}

// LogOrderEventPublisher records order events in the service log.
type LogOrderEventPublisher struct {
	logger *zap.Logger
}

// NewLogOrderEventPublisher constructs a services.OrderEventPublisher that only logs.
func NewLogOrderEventPublisher(logger *zap.Logger) *LogOrderEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogOrderEventPublisher{logger: logger.Named("order_events")}
}

// PublishOrderEvent implements services.OrderEventPublisher.
func (p *LogOrderEventPublisher) PublishOrderEvent(_ context.Context, event services.OrderEvent) error {
	p.logger.Info("order event",
		zap.String("type", event.Type),
		zap.String("orderId", event.OrderID),
		zap.String("status", string(event.Status)),
		zap.String("previousStatus", string(event.PreviousStatus)),
		zap.String("collaboratorId", event.CollaboratorID),
		zap.String("actorId", event.ActorID),
	)
	return nil
}
