package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentStatusChanged = "payment.status_changed"
)

// Sources of a status change.
const (
	SourceCreate    = "create"
	SourceWebhook   = "webhook"
	SourceReconcile = "reconcile"
)

type PaymentStatusChangedEvent struct {
	BaseEvent
	PaymentID      string `json:"payment_id"`
	PreviousStatus string `json:"previous_status,omitempty"`
	Status         string `json:"status"`
	StatusDetail   string `json:"status_detail,omitempty"`
	Source         string `json:"source"`
}

func NewPaymentStatusChangedEvent(paymentID, previousStatus, status, statusDetail, source string) *PaymentStatusChangedEvent {
	return &PaymentStatusChangedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentStatusChanged,
			Timestamp: time.Now().UTC(),
			Data: map[string]interface{}{
				"payment_id":      paymentID,
				"previous_status": previousStatus,
				"status":          status,
				"status_detail":   statusDetail,
				"source":          source,
			},
		},
		PaymentID:      paymentID,
		PreviousStatus: previousStatus,
		Status:         status,
		StatusDetail:   statusDetail,
		Source:         source,
	}
}
