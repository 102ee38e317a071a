package payment

import (
	"bytes"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	paymentgatewaytypes "github.com/frahmantamala/pix-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/pix-payments/internal/transport"
	"github.com/frahmantamala/pix-payments/pkg/logger"
)

var ErrMalformedNotification = goerrors.New("malformed notification")

type WebhookHandler struct {
	*transport.BaseHandler
	paymentService ServiceAPI
	logger         *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:    baseHandler,
		paymentService: paymentService,
		logger:         logger,
	}
}

type notificationBody struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID paymentgatewaytypes.PaymentID `json:"id"`
	} `json:"data"`
	Resource string `json:"resource"`
}

// ParseNotification reads the processor envelope from the query string
// (type + data.id, or the legacy topic + id) and from a JSON body
// ({type, action, data:{id}} or {topic, resource}). Query values win.
// An envelope that decodes but names no type comes back with an empty Type,
// which the caller acknowledges and discards. ErrMalformedNotification is
// reserved for requests where neither source could be read.
func ParseNotification(r *http.Request) (*Notification, error) {
	q := r.URL.Query()
	n := &Notification{
		Type:       firstNonEmpty(q.Get("type"), q.Get("topic")),
		ResourceID: firstNonEmpty(q.Get("data.id"), q.Get("id")),
	}
	parsed := n.Type != "" || n.ResourceID != ""

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	raw = bytes.TrimSpace(raw)

	if len(raw) > 0 {
		var body notificationBody
		if err := json.Unmarshal(raw, &body); err != nil {
			if n.Type == "" {
				return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
			}
		} else {
			parsed = true
			n.Type = firstNonEmpty(n.Type, body.Type, body.Topic)
			n.Action = body.Action
			n.ResourceID = firstNonEmpty(n.ResourceID, string(body.Data.ID), lastSegment(body.Resource))
		}
	}

	if !parsed {
		return nil, fmt.Errorf("%w: empty notification", ErrMalformedNotification)
	}
	if n.IsPayment() && n.ResourceID == "" {
		return nil, fmt.Errorf("%w: payment event without id", ErrMalformedNotification)
	}
	return n, nil
}

// HandleNotification handles POST /webhook. It answers 204 when the
// notification was processed or ignored and 202 when the payment could not be
// re-read, so the processor delivers it again.
func (h *WebhookHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	log := logger.FromOr(r.Context(), h.logger)

	n, err := ParseNotification(r)
	if err != nil {
		log.Error("unparseable webhook notification", "error", err, "query", r.URL.RawQuery)
		h.WriteError(w, http.StatusInternalServerError, "unparseable notification")
		return
	}

	log.Info("received webhook notification",
		"type", n.Type,
		"action", n.Action,
		"resource_id", n.ResourceID)

	outcome, err := h.paymentService.HandleNotification(r.Context(), n)
	switch outcome {
	case OutcomeFetchFailed, OutcomeStoreFailed:
		log.Warn("webhook acknowledged without reconciliation",
			"resource_id", n.ResourceID,
			"outcome", outcome.String(),
			"error", err)
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func lastSegment(resource string) string {
	resource = strings.TrimRight(strings.TrimSpace(resource), "/")
	if i := strings.LastIndex(resource, "/"); i >= 0 {
		return resource[i+1:]
	}
	return resource
}
