package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	errors "github.com/frahmantamala/pix-payments/internal"
	"github.com/frahmantamala/pix-payments/pkg/logger"
)

// BaseHandler provides common functionality for HTTP handlers
type BaseHandler struct {
	Logger *slog.Logger
}

// NewBaseHandler creates a base handler with logger
func NewBaseHandler(lg *slog.Logger) *BaseHandler {
	if lg == nil {
		lg = logger.LoggerWrapper()
		if lg == nil {
			lg = slog.Default()
		}
	}
	return &BaseHandler{Logger: lg}
}

type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// WriteJSON writes a JSON response
func (h *BaseHandler) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger().Error("failed to encode JSON response", "error", err)
	}
}

// WriteError writes an error response
func (h *BaseHandler) WriteError(w http.ResponseWriter, status int, message string) {
	h.logger().Error("http error", "status", status, "message", message)
	h.WriteJSON(w, status, ErrorResponse{Error: message})
}

// HandleError writes an AppError with its own status code.
func (h *BaseHandler) HandleError(w http.ResponseWriter, appErr *errors.AppError) {
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		h.logger().Error("request failed", "status", status, "code", appErr.Code, "error", appErr)
	}
	h.WriteJSON(w, status, ErrorResponse{
		Error:   appErr.GetDetailedMessage(),
		Code:    string(appErr.Code),
		Details: appErr.Details,
	})
}

// HandleServiceError maps any error returned by a service to a response.
// Errors that are not AppErrors become a generic 500.
func (h *BaseHandler) HandleServiceError(w http.ResponseWriter, err error) {
	if appErr, ok := errors.IsAppError(err); ok {
		h.HandleError(w, appErr)
		return
	}
	h.HandleError(w, errors.NewInternalError("internal server error", err))
}

func (h *BaseHandler) logger() *slog.Logger {
	if h == nil || h.Logger == nil {
		return logger.LoggerWrapper()
	}
	return h.Logger
}
