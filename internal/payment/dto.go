package payment

import (
	"strings"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/pix-payments/internal"
	"github.com/frahmantamala/pix-payments/internal/core/common/validation"
	paymentgatewaytypes "github.com/frahmantamala/pix-payments/internal/core/datamodel/paymentgateway"
)

const maxDescriptionLength = 256

type PayerRequest struct {
	Email string `json:"email"`
}

type CardRequest struct {
	Token           string `json:"token"`
	Installments    int    `json:"installments"`
	PaymentMethodID string `json:"payment_method_id"`
	IssuerID        string `json:"issuer_id"`
}

// CreatePaymentRequest is the body of POST /criar-pagamento.
type CreatePaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Method      string          `json:"method"`
	Payer       PayerRequest    `json:"payer"`
	Card        *CardRequest    `json:"card,omitempty"`
}

// Normalize trims input and defaults an empty method to pix.
func (r *CreatePaymentRequest) Normalize() {
	r.Method = strings.ToLower(strings.TrimSpace(r.Method))
	if r.Method == "" {
		r.Method = paymentgatewaytypes.MethodPix
	}
	r.Description = strings.TrimSpace(r.Description)
	r.Payer.Email = strings.TrimSpace(r.Payer.Email)
}

func (r *CreatePaymentRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("payer.email", r.Payer.Email).Required().Email()
	validator.Field("amount", r.Amount).PositiveDecimal()
	validator.Field("method", r.Method).Required().
		OneOf(errors.ErrCodeInvalidMethod, paymentgatewaytypes.MethodPix, paymentgatewaytypes.MethodCard)
	validator.Field("description", r.Description).MaxLength(maxDescriptionLength)

	if r.Method == paymentgatewaytypes.MethodCard {
		var token, methodID string
		if r.Card != nil {
			token, methodID = r.Card.Token, r.Card.PaymentMethodID
		}
		validator.Field("card.token", token).Required()
		validator.Field("card.payment_method_id", methodID).Required()
		if r.Card != nil && r.Card.Installments < 0 {
			validator.Field("card.installments", r.Card.Installments).Custom(func(interface{}) *errors.AppError {
				return errors.NewValidationFieldError("card.installments", "card.installments must not be negative", errors.ErrCodeValidationFailed)
			})
		}
	}

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// CreatePaymentResponse carries the id and the method specific presentation
// data. Card payments fill Detail; PIX payments fill the QR fields.
type CreatePaymentResponse struct {
	ID           string `json:"id"`
	Status       Status `json:"status"`
	Detail       string `json:"detail,omitempty"`
	QRCode       string `json:"qr_code,omitempty"`
	QRCodeBase64 string `json:"qr_code_base64,omitempty"`
	TicketURL    string `json:"ticket_url,omitempty"`
}

type VerifyPaymentResponse struct {
	Status string `json:"status"`
}

// StatusNotFound is what pollers see for ids this service never registered.
const StatusNotFound = "nao_encontrado"

// Notification is a processor webhook reduced to what reconciliation needs.
type Notification struct {
	Type       string
	Action     string
	ResourceID string
}

func (n *Notification) IsPayment() bool {
	return n.Type == "payment"
}

type NotificationOutcome int

const (
	// OutcomeProcessed means the record was refreshed from the processor.
	OutcomeProcessed NotificationOutcome = iota
	// OutcomeIgnored means the event type is not about payments.
	OutcomeIgnored
	// OutcomeFetchFailed means the processor could not be read; the store is untouched.
	OutcomeFetchFailed
	// OutcomeStoreFailed means the processor was read but the record could not be written.
	OutcomeStoreFailed
)

func (o NotificationOutcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeFetchFailed:
		return "fetch_failed"
	case OutcomeStoreFailed:
		return "store_failed"
	default:
		return "unknown"
	}
}
