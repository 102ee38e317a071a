package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/frahmantamala/pix-payments/pkg/logger"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

var _ = Describe("LoggingMiddleware", func() {
	It("should filter card data and mask payer emails in logged bodies", func() {
		var buf bytes.Buffer
		lg := slog.New(slog.NewJSONHandler(&buf, nil))

		body := `{"amount":1,"payer":{"email":"maria@example.com"},"card":{"token":"tok_123"}}`
		req := httptest.NewRequest("POST", "/criar-pagamento", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer secret")

		var seen []byte
		h := LoggingMiddleware(lg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
		}))
		h.ServeHTTP(httptest.NewRecorder(), req)

		Expect(string(seen)).To(Equal(body))
		out := buf.String()
		Expect(out).ToNot(ContainSubstring("tok_123"))
		Expect(out).ToNot(ContainSubstring("maria@example.com"))
		Expect(out).ToNot(ContainSubstring("Bearer secret"))
		Expect(out).To(ContainSubstring("m***@example.com"))
	})

	It("should leave ordinary fields alone", func() {
		filtered := filterSensitiveBody([]byte(`{"id":"PAY123","status":"approved"}`))
		var m map[string]string
		Expect(json.Unmarshal([]byte(filtered), &m)).To(Succeed())
		Expect(m).To(Equal(map[string]string{"id": "PAY123", "status": "approved"}))
	})

	It("should refuse to echo non-json bodies that look sensitive", func() {
		Expect(filterSensitiveBody([]byte("token=abc"))).To(HavePrefix("[FILTERED"))
		Expect(filterSensitiveBody([]byte("hello"))).To(Equal("hello"))
	})
})

var _ = Describe("RecoveryMiddleware", func() {
	It("should turn a panic into a json 500", func() {
		h := RecoveryMiddleware(discard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Body.String()).To(MatchJSON(`{"error":"internal server error"}`))
	})

	It("should echo the trace id and log through the request logger", func() {
		var buf bytes.Buffer
		h := RequestID(RecoveryMiddleware(discard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})))
		req := httptest.NewRequest("GET", "/", nil)
		req = req.WithContext(logger.Into(req.Context(), slog.New(slog.NewJSONHandler(&buf, nil))))
		req.Header.Set("X-Trace-ID", "trace-9")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		Expect(rec.Body.String()).To(MatchJSON(`{"error":"internal server error","trace_id":"trace-9"}`))
		Expect(buf.String()).To(ContainSubstring(`"traceID":"trace-9"`))
	})
})

var _ = Describe("RequestID", func() {
	It("should reuse an incoming trace id", func() {
		var ctxLogger *slog.Logger
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctxLogger = logger.From(r.Context())
		}))
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Trace-ID", "trace-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		Expect(rec.Header().Get("X-Trace-ID")).To(Equal("trace-1"))
		Expect(ctxLogger).ToNot(BeNil())
	})

	It("should replace trace ids that could forge log lines", func() {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Trace-ID", "abc\nlevel=ERROR")
		rec := httptest.NewRecorder()
		RequestID(ok).ServeHTTP(rec, req)
		Expect(rec.Header().Get("X-Trace-ID")).ToNot(ContainSubstring("level"))
	})

	It("should mint one when absent", func() {
		rec := httptest.NewRecorder()
		RequestID(ok).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		Expect(rec.Header().Get("X-Trace-ID")).To(HaveLen(36))
	})
})

var _ = Describe("RateLimiter", func() {
	It("should allow the burst and then answer 429", func() {
		rl := NewRateLimiter(0.001, 2)
		h := rl.Middleware(discard)(ok)

		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest("POST", "/criar-pagamento", nil)
			req.RemoteAddr = "10.0.0.1:5555"
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			codes = append(codes, rec.Code)
		}
		Expect(codes).To(Equal([]int{200, 200, 429}))
	})

	It("should budget forwarded clients behind one proxy independently", func() {
		rl := NewRateLimiter(0.001, 1)
		h := middleware.RealIP(rl.Middleware(discard)(ok))

		codes := map[int]int{}
		for i := 0; i < 20; i++ {
			req := httptest.NewRequest("POST", "/criar-pagamento", nil)
			req.RemoteAddr = "10.0.0.1:443"
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			codes[rec.Code]++
		}
		Expect(codes).To(Equal(map[int]int{http.StatusOK: 20}))

		req := httptest.NewRequest("POST", "/criar-pagamento", nil)
		req.RemoteAddr = "10.0.0.1:443"
		req.Header.Set("X-Forwarded-For", "203.0.113.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusTooManyRequests))
	})

	It("should budget clients independently", func() {
		rl := NewRateLimiter(0.001, 1)
		Expect(rl.Allow("a")).To(BeTrue())
		Expect(rl.Allow("a")).To(BeFalse())
		Expect(rl.Allow("b")).To(BeTrue())
	})

	It("should forget idle clients", func() {
		now := time.Now()
		rl := NewRateLimiter(0.001, 1)
		rl.now = func() time.Time { return now }
		Expect(rl.Allow("a")).To(BeTrue())

		now = now.Add(idleLimiterTTL + time.Second)
		Expect(rl.Allow("b")).To(BeTrue())
		Expect(rl.clients).ToNot(HaveKey("a"))
	})
})

var _ = Describe("CORS", func() {
	It("should answer preflight requests", func() {
		req := httptest.NewRequest("OPTIONS", "/criar-pagamento", nil)
		req.Header.Set("Origin", "https://shop.example")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		CORS("https://shop.example")(ok).ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://shop.example"))
	})

	It("should not allow unknown origins", func() {
		req := httptest.NewRequest("GET", "/api/ping", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		CORS("https://shop.example")(ok).ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
	})

	It("should allow any origin when none are configured", func() {
		req := httptest.NewRequest("GET", "/api/ping", nil)
		req.Header.Set("Origin", "https://anywhere.example")
		rec := httptest.NewRecorder()
		CORS("")(ok).ServeHTTP(rec, req)
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
	})
})

var _ = Describe("HTTPMetrics", func() {
	It("should label requests by route pattern", func() {
		reg := prometheus.NewRegistry()
		m := NewHTTPMetrics(reg)

		r := chi.NewRouter()
		r.Use(m.Middleware)
		r.Get("/verificar-pagamento/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		for _, id := range []string{"1", "2", "3"} {
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/verificar-pagamento/"+id, nil))
		}

		Expect(testutil.ToFloat64(m.requests.WithLabelValues("GET", "/verificar-pagamento/{id}", "404"))).To(Equal(3.0))
		n, err := testutil.GatherAndCount(reg, "pix_payments_http_requests_total")
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(1))
	})
})
