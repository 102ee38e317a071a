package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/frahmantamala/pix-payments/pkg/logger"
)

type panicResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// RecoveryMiddleware turns a handler panic into a 500. The body carries the
// trace id set by RequestID so a report can be matched to the logged stack.
func RecoveryMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.FromOr(r.Context(), base).Error("panic recovered",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(panicResponse{
					Error:   "internal server error",
					TraceID: w.Header().Get("X-Trace-ID"),
				})
			}()

			next.ServeHTTP(w, r)
		})
	}
}
