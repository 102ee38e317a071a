package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/pix-payments/internal"
	paymentgatewaytypes "github.com/frahmantamala/pix-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/pix-payments/internal/core/events"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusUnknown  Status = "unknown"
)

// Settled reports whether the processor has reached a final decision.
func (s Status) Settled() bool {
	return s == StatusApproved || s == StatusRejected
}

// MapGatewayStatus folds the processor's status vocabulary into ours.
func MapGatewayStatus(raw string) Status {
	switch raw {
	case paymentgatewaytypes.StatusApproved:
		return StatusApproved
	case paymentgatewaytypes.StatusPending,
		paymentgatewaytypes.StatusInProcess,
		paymentgatewaytypes.StatusAuthorized,
		paymentgatewaytypes.StatusInMediation:
		return StatusPending
	case paymentgatewaytypes.StatusRejected,
		paymentgatewaytypes.StatusCancelled,
		paymentgatewaytypes.StatusRefunded,
		paymentgatewaytypes.StatusChargedBack:
		return StatusRejected
	default:
		return StatusUnknown
	}
}

// Record is the stored view of one payment, keyed by the processor id.
type Record struct {
	ID           string          `json:"id"`
	Status       Status          `json:"status"`
	StatusDetail string          `json:"status_detail,omitempty"`
	Method       string          `json:"method,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ErrPaymentNotFound is returned by every Store for ids it never saw.
var ErrPaymentNotFound = errors.ErrPaymentNotFound

// Store holds the current record of every known payment.
// Implementations must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, record *Record) error
	Get(ctx context.Context, id string) (*Record, error)
}

type GatewayAPI interface {
	CreatePayment(ctx context.Context, order *paymentgatewaytypes.Order) (*paymentgatewaytypes.PaymentResult, error)
	FetchPayment(ctx context.Context, id string) (*paymentgatewaytypes.PaymentResult, error)
}

type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type ServiceAPI interface {
	CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*CreatePaymentResponse, error)
	VerifyPayment(ctx context.Context, id string) (*Record, error)
	Reconcile(ctx context.Context, id, source string) (*Record, error)
	HandleNotification(ctx context.Context, n *Notification) (NotificationOutcome, error)
}
