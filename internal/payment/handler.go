package payment

import (
	"encoding/json"
	goerrors "errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/pix-payments/internal"
	"github.com/frahmantamala/pix-payments/internal/transport"
	"github.com/frahmantamala/pix-payments/pkg/logger"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	transport.BaseHandler
	PaymentService ServiceAPI
	Logger         *slog.Logger
}

func NewHandler(paymentService ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    transport.BaseHandler{Logger: logger},
		PaymentService: paymentService,
		Logger:         logger,
	}
}

// CreatePayment handles POST /criar-pagamento
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromOr(r.Context(), h.Logger)

	var req CreatePaymentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		log.Warn("CreatePayment: failed to parse request body", "error", err)
		h.HandleError(w, errors.ErrInvalidRequest.WithMessage("invalid request body"))
		return
	}

	resp, err := h.PaymentService.CreatePayment(r.Context(), &req)
	if err != nil {
		log.Error("CreatePayment: service error", "error", err, "method", req.Method)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, resp)
}

// VerifyPayment handles GET /verificar-pagamento/{id}
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.PaymentService.VerifyPayment(r.Context(), id)
	if err != nil {
		if goerrors.Is(err, ErrPaymentNotFound) {
			h.WriteJSON(w, http.StatusNotFound, VerifyPaymentResponse{Status: StatusNotFound})
			return
		}
		logger.FromOr(r.Context(), h.Logger).Error("VerifyPayment: service error", "error", err, "payment_id", id)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, VerifyPaymentResponse{Status: string(record.Status)})
}
