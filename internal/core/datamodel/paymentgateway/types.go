package paymentgateway

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MethodPix  = "pix"
	MethodCard = "card"
)

// Processor statuses as reported by Mercado Pago.
const (
	StatusApproved    = "approved"
	StatusPending     = "pending"
	StatusInProcess   = "in_process"
	StatusAuthorized  = "authorized"
	StatusInMediation = "in_mediation"
	StatusRejected    = "rejected"
	StatusCancelled   = "cancelled"
	StatusRefunded    = "refunded"
	StatusChargedBack = "charged_back"
)

// Order is what the service asks the processor to charge.
type Order struct {
	Amount          decimal.Decimal
	Description     string
	Method          string
	PayerEmail      string
	CardToken       string
	Installments    int
	PaymentMethodID string
	IssuerID        string
	NotificationURL string
	IdempotencyKey  string
}

func (o *Order) Validate() error {
	if !o.Amount.IsPositive() {
		return errors.New("transaction_amount must be greater than 0")
	}
	if o.PayerEmail == "" {
		return errors.New("payer email is required")
	}
	if o.NotificationURL == "" {
		return errors.New("notification_url is required")
	}
	if o.Method == MethodCard && o.CardToken == "" {
		return errors.New("card token is required")
	}
	return nil
}

// PaymentResult is the normalized processor view of a payment.
type PaymentResult struct {
	ID           string
	Status       string
	StatusDetail string
	QRCode       string
	QRCodeBase64 string
	TicketURL    string
}

type Payer struct {
	Email string `json:"email"`
}

type CreatePaymentRequest struct {
	TransactionAmount json.Number `json:"transaction_amount"`
	Description       string      `json:"description"`
	PaymentMethodID   string      `json:"payment_method_id"`
	Payer             Payer       `json:"payer"`
	NotificationURL   string      `json:"notification_url"`
	Token             string      `json:"token,omitempty"`
	Installments      int         `json:"installments,omitempty"`
	IssuerID          string      `json:"issuer_id,omitempty"`
}

type TransactionData struct {
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
	TicketURL    string `json:"ticket_url"`
}

type PointOfInteraction struct {
	TransactionData TransactionData `json:"transaction_data"`
}

// PaymentID accepts the processor id as either a JSON number or a string.
type PaymentID string

func (id *PaymentID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = PaymentID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = PaymentID(n.String())
	return nil
}

// PaymentResponse is the subset of the /v1/payments resource the service reads.
type PaymentResponse struct {
	ID                 PaymentID          `json:"id"`
	Status             string             `json:"status"`
	StatusDetail       string             `json:"status_detail"`
	PointOfInteraction PointOfInteraction `json:"point_of_interaction"`
}

func (r *PaymentResponse) ToResult() *PaymentResult {
	return &PaymentResult{
		ID:           string(r.ID),
		Status:       r.Status,
		StatusDetail: r.StatusDetail,
		QRCode:       r.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64: r.PointOfInteraction.TransactionData.QRCodeBase64,
		TicketURL:    r.PointOfInteraction.TransactionData.TicketURL,
	}
}

type ErrorCause struct {
	Code        json.RawMessage `json:"code"`
	Description string          `json:"description"`
}

type ErrorResponse struct {
	Message string       `json:"message"`
	Error   string       `json:"error"`
	Status  int          `json:"status"`
	Cause   []ErrorCause `json:"cause"`
}

// Diagnostic returns the most specific human readable text in the payload.
func (e *ErrorResponse) Diagnostic() string {
	var parts []string
	for _, c := range e.Cause {
		if c.Description != "" {
			parts = append(parts, c.Description)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "; ")
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
