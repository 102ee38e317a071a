package payment

import (
	"context"
	goerrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	errors "github.com/frahmantamala/pix-payments/internal"
	paymentgatewaytypes "github.com/frahmantamala/pix-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/pix-payments/internal/core/events"
	"github.com/frahmantamala/pix-payments/internal/paymentgateway"
)

type Config struct {
	// WebhookURL is attached to every order. It is never taken from a request.
	WebhookURL         string
	DefaultDescription string
}

// Reconciler drives every state change of the payment store: records are
// created from gateway create responses and refreshed from gateway reads.
type Reconciler struct {
	gateway   GatewayAPI
	store     Store
	publisher Publisher
	metrics   *Metrics
	locks     keyedLocker
	config    Config
	logger    *slog.Logger
	now       func() time.Time
	newKey    func() string
}

func NewReconciler(gateway GatewayAPI, store Store, publisher Publisher, metrics *Metrics, config Config, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		gateway:   gateway,
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		config:    config,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newKey:    func() string { return uuid.New().String() },
	}
}

func (s *Reconciler) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*CreatePaymentResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		s.logger.Warn("payment request rejected", "error", err)
		s.metrics.observeCreate(req.Method, "invalid")
		return nil, err
	}

	order := &paymentgatewaytypes.Order{
		Amount:          req.Amount,
		Description:     req.Description,
		Method:          req.Method,
		PayerEmail:      req.Payer.Email,
		NotificationURL: s.config.WebhookURL,
		IdempotencyKey:  s.newKey(),
	}
	if order.Description == "" {
		order.Description = s.config.DefaultDescription
	}
	if req.Card != nil && req.Method == paymentgatewaytypes.MethodCard {
		order.CardToken = req.Card.Token
		order.Installments = req.Card.Installments
		order.PaymentMethodID = req.Card.PaymentMethodID
		order.IssuerID = req.Card.IssuerID
	}

	result, err := s.gateway.CreatePayment(ctx, order)
	if err != nil {
		s.logger.Error("payment creation failed",
			"method", req.Method,
			"idempotency_key", order.IdempotencyKey,
			"error", err)
		s.metrics.observeCreate(req.Method, "gateway_error")
		return nil, creationFailed(err)
	}

	now := s.now()
	record := &Record{
		ID:           result.ID,
		Status:       MapGatewayStatus(result.Status),
		StatusDetail: detailOf(result),
		Method:       req.Method,
		Amount:       req.Amount,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	stored, err := s.apply(ctx, record, events.SourceCreate)
	if err != nil {
		s.logger.Error("failed to register created payment",
			"payment_id", result.ID,
			"error", err)
		s.metrics.observeCreate(req.Method, "store_error")
		return nil, errors.NewInternalError("failed to register payment", err)
	}

	s.logger.Info("payment created",
		"payment_id", stored.ID,
		"method", stored.Method,
		"status", stored.Status)
	s.metrics.observeCreate(req.Method, "created")

	resp := &CreatePaymentResponse{
		ID:     stored.ID,
		Status: stored.Status,
	}
	if req.Method == paymentgatewaytypes.MethodPix {
		resp.QRCode = result.QRCode
		resp.QRCodeBase64 = result.QRCodeBase64
		resp.TicketURL = result.TicketURL
	} else {
		resp.Detail = stored.StatusDetail
	}
	return resp, nil
}

// VerifyPayment answers from the store only.
func (s *Reconciler) VerifyPayment(ctx context.Context, id string) (*Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrPaymentNotFound
	}
	record, err := s.store.Get(ctx, id)
	if err != nil {
		if goerrors.Is(err, ErrPaymentNotFound) {
			return nil, ErrPaymentNotFound
		}
		s.logger.Error("failed to read payment", "payment_id", id, "error", err)
		return nil, errors.NewInternalError("failed to read payment", err)
	}
	return record, nil
}

// Reconcile refreshes one record from the processor. The lock on id is held
// across the fetch and the write so concurrent triggers for the same payment
// apply in the order their reads completed.
func (s *Reconciler) Reconcile(ctx context.Context, id, source string) (*Record, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	result, err := s.gateway.FetchPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	// trust the id we asked for, not the one echoed back
	record := &Record{
		ID:           id,
		Status:       MapGatewayStatus(result.Status),
		StatusDetail: detailOf(result),
		UpdatedAt:    s.now(),
	}
	return s.applyLocked(ctx, record, source)
}

func (s *Reconciler) HandleNotification(ctx context.Context, n *Notification) (NotificationOutcome, error) {
	if !n.IsPayment() {
		s.logger.Info("ignoring non-payment notification",
			"type", n.Type,
			"action", n.Action,
			"resource_id", n.ResourceID)
		s.metrics.observeNotification(OutcomeIgnored)
		return OutcomeIgnored, nil
	}

	record, err := s.Reconcile(ctx, n.ResourceID, events.SourceWebhook)
	if err != nil {
		if _, ok := paymentgateway.IsGatewayError(err); ok {
			s.logger.Error("webhook re-fetch failed, store left untouched",
				"payment_id", n.ResourceID,
				"action", n.Action,
				"error", err)
			s.metrics.observeNotification(OutcomeFetchFailed)
			return OutcomeFetchFailed, err
		}
		s.logger.Error("failed to store reconciled payment",
			"payment_id", n.ResourceID,
			"action", n.Action,
			"error", err)
		s.metrics.observeNotification(OutcomeStoreFailed)
		return OutcomeStoreFailed, err
	}

	s.logger.Info("webhook reconciled",
		"payment_id", record.ID,
		"action", n.Action,
		"status", record.Status)
	s.metrics.observeNotification(OutcomeProcessed)
	return OutcomeProcessed, nil
}

func (s *Reconciler) apply(ctx context.Context, record *Record, source string) (*Record, error) {
	unlock := s.locks.Lock(record.ID)
	defer unlock()
	return s.applyLocked(ctx, record, source)
}

// applyLocked writes record unless it would move a settled payment back to a
// non-final status. Fields the processor read does not carry are kept from the
// previous record.
func (s *Reconciler) applyLocked(ctx context.Context, record *Record, source string) (*Record, error) {
	prev, err := s.store.Get(ctx, record.ID)
	if err != nil && !goerrors.Is(err, ErrPaymentNotFound) {
		return nil, err
	}

	if prev != nil {
		if prev.Status.Settled() && !record.Status.Settled() {
			s.logger.Warn("keeping settled status over stale read",
				"payment_id", record.ID,
				"stored_status", prev.Status,
				"fetched_status", record.Status,
				"source", source)
			if (prev.Method == "" && record.Method != "") || (prev.Amount.IsZero() && !record.Amount.IsZero()) {
				// a webhook can settle the record before the create response lands
				if prev.Method == "" {
					prev.Method = record.Method
				}
				if prev.Amount.IsZero() {
					prev.Amount = record.Amount
				}
				if err := s.store.Put(ctx, prev); err != nil {
					return nil, err
				}
			}
			return prev, nil
		}
		if record.Method == "" {
			record.Method = prev.Method
		}
		if record.Amount.IsZero() {
			record.Amount = prev.Amount
		}
		if !prev.CreatedAt.IsZero() {
			record.CreatedAt = prev.CreatedAt
		}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.UpdatedAt
	}

	if err := s.store.Put(ctx, record); err != nil {
		return nil, err
	}

	var prevStatus Status
	if prev != nil {
		prevStatus = prev.Status
	}
	if prevStatus != record.Status {
		s.metrics.observeTransition(record.Status)
		s.publish(ctx, events.NewPaymentStatusChangedEvent(record.ID, string(prevStatus), string(record.Status), record.StatusDetail, source))
	}

	return record, nil
}

func (s *Reconciler) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}

func detailOf(result *paymentgatewaytypes.PaymentResult) string {
	if result.StatusDetail != "" {
		return result.StatusDetail
	}
	return result.Status
}

func creationFailed(err error) *errors.AppError {
	appErr := errors.ErrPaymentCreationFailed.WithCause(err)
	if gwErr, ok := paymentgateway.IsGatewayError(err); ok && gwErr.Detail != "" {
		appErr = appErr.WithMessage(errors.ErrPaymentCreationFailed.Message + ": " + gwErr.Detail)
	}
	return appErr
}
