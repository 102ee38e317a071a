package middleware

import (
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"

	"github.com/frahmantamala/pix-payments/pkg/logger"
)

const (
	TraceIDHeader  = "X-Trace-ID"
	maxTraceIDSize = 128
)

// RequestID attaches a trace id to the request logger and the response. A
// caller-supplied X-Trace-ID is kept when it is printable and short, then
// chi's request id is tried, then a fresh uuid.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceIDHeader)
		if !validTraceID(traceID) {
			traceID = middleware.GetReqID(r.Context())
		}
		if !validTraceID(traceID) {
			traceID = uuid.NewString()
		}

		w.Header().Set(TraceIDHeader, traceID)
		next.ServeHTTP(w, r.WithContext(logger.With(r.Context(), "traceID", traceID)))
	})
}

func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDSize {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
