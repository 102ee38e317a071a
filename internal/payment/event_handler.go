package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/pix-payments/internal/core/events"
)

type EventHandler struct {
	sink   events.Handler
	logger *slog.Logger
}

// NewEventHandler builds the status change subscribers. sink may be nil when
// no external fan-out is configured.
func NewEventHandler(sink events.Handler, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		sink:   sink,
		logger: logger,
	}
}

func (h *EventHandler) HandleStatusChanged(ctx context.Context, event events.Event) error {
	changed, ok := event.(*events.PaymentStatusChangedEvent)
	if !ok {
		h.logger.Error("invalid event type for status changed handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentStatusChangedEvent, got %T", event)
	}

	h.logger.Info("payment status changed",
		"payment_id", changed.PaymentID,
		"previous_status", changed.PreviousStatus,
		"status", changed.Status,
		"status_detail", changed.StatusDetail,
		"source", changed.Source,
		"event_id", changed.EventID())

	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	handlers := []string{"log"}
	eventBus.Subscribe(events.EventTypePaymentStatusChanged, h.HandleStatusChanged)
	if h.sink != nil {
		eventBus.Subscribe(events.EventTypePaymentStatusChanged, h.sink)
		handlers = append(handlers, "sink")
	}

	h.logger.Info("payment event handlers registered",
		"event_type", events.EventTypePaymentStatusChanged,
		"handlers", handlers)
}
