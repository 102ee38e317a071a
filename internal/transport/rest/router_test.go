package rest_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/frahmantamala/pix-payments/internal/payment"
	"github.com/frahmantamala/pix-payments/internal/paymentgateway"
	"github.com/frahmantamala/pix-payments/internal/transport"
	"github.com/frahmantamala/pix-payments/internal/transport/middleware"
	"github.com/frahmantamala/pix-payments/internal/transport/rest"
)

// processor imitates the two Mercado Pago endpoints the service calls.
type processor struct {
	mu        sync.Mutex
	statuses  map[string]string
	failWrite bool
	creates   []map[string]interface{}
}

func (p *processor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/payments":
		if p.failWrite {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"invalid payer","error":"bad_request","status":400,"cause":[{"code":2034,"description":"Invalid users involved"}]}`))
			return
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		body["idempotency_key"] = r.Header.Get("X-Idempotency-Key")
		p.creates = append(p.creates, body)
		p.statuses["PAY123"] = "pending"
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"PAY123","status":"pending","status_detail":"pending_waiting_transfer",
			"point_of_interaction":{"transaction_data":{"qr_code":"000201...","qr_code_base64":"iVBOR...","ticket_url":"https://mp/t/1"}}}`))
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/payments/"):
		id := strings.TrimPrefix(r.URL.Path, "/v1/payments/")
		status, ok := p.statuses[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Payment not found","error":"not_found","status":404}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "status": status})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *processor) set(id, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[id] = status
}

var _ = Describe("Router", func() {
	var (
		proc     *processor
		upstream *httptest.Server
		server   *httptest.Server
		store    *payment.MemoryStore
		registry *prometheus.Registry
		dbErr    error
	)

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		proc = &processor{statuses: map[string]string{}}
		upstream = httptest.NewServer(proc)
		dbErr = nil

		client := paymentgateway.NewClient(paymentgateway.Config{
			APIURL:      upstream.URL,
			AccessToken: "TEST-token",
		}, logger)

		registry = prometheus.NewRegistry()
		store = payment.NewMemoryStore()
		reconciler := payment.NewReconciler(client, store, nil, payment.NewMetrics(registry), payment.Config{
			WebhookURL: "https://pix.example/webhook",
		}, logger)

		router := chi.NewRouter()
		rest.RegisterAllRoutes(router,
			payment.NewHandler(reconciler, logger),
			payment.NewWebhookHandler(transport.NewBaseHandler(logger), reconciler, logger),
			rest.Options{
				HealthChecks: map[string]rest.Checker{
					"store": func(ctx context.Context) error { return dbErr },
				},
				RateLimiter: middleware.NewRateLimiter(1000, 1000),
				HTTPMetrics: middleware.NewHTTPMetrics(registry),
				Gatherer:    registry,
			},
			logger)
		server = httptest.NewServer(router)
	})

	AfterEach(func() {
		server.Close()
		upstream.Close()
	})

	call := func(method, path, body string) (int, map[string]interface{}) {
		req, err := http.NewRequest(method, server.URL+path, strings.NewReader(body))
		Expect(err).ToNot(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		Expect(err).ToNot(HaveOccurred())
		defer resp.Body.Close()

		raw, _ := io.ReadAll(resp.Body)
		var out map[string]interface{}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &out)
		}
		return resp.StatusCode, out
	}

	const order = `{"amount":1.00,"method":"pix","payer":{"email":"a@b.com"}}`

	It("should create a pix payment and report it pending", func() {
		code, body := call("POST", "/criar-pagamento", order)
		Expect(code).To(Equal(http.StatusCreated))
		Expect(body).To(HaveKeyWithValue("id", "PAY123"))
		Expect(body).To(HaveKeyWithValue("qr_code", "000201..."))
		Expect(body).To(HaveKeyWithValue("qr_code_base64", "iVBOR..."))
		Expect(body).To(HaveKeyWithValue("ticket_url", "https://mp/t/1"))

		Expect(proc.creates).To(HaveLen(1))
		Expect(proc.creates[0]).To(HaveKeyWithValue("notification_url", "https://pix.example/webhook"))
		Expect(proc.creates[0]).To(HaveKeyWithValue("payment_method_id", "pix"))
		Expect(proc.creates[0]["idempotency_key"]).ToNot(BeEmpty())

		code, body = call("GET", "/verificar-pagamento/PAY123", "")
		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(Equal(map[string]interface{}{"status": "pending"}))
	})

	It("should settle a payment from a webhook by re-reading the processor", func() {
		code, _ := call("POST", "/criar-pagamento", order)
		Expect(code).To(Equal(http.StatusCreated))

		proc.set("PAY123", "approved")
		code, _ = call("POST", "/webhook", `{"type":"payment","data":{"id":"PAY123"}}`)
		Expect(code).To(Equal(http.StatusNoContent))

		_, body := call("GET", "/verificar-pagamento/PAY123", "")
		Expect(body).To(HaveKeyWithValue("status", "approved"))
	})

	It("should converge when the same notification is delivered repeatedly", func() {
		call("POST", "/criar-pagamento", order)
		proc.set("PAY123", "approved")

		for i := 0; i < 3; i++ {
			code, _ := call("POST", "/webhook?type=payment&data.id=PAY123", "")
			Expect(code).To(Equal(http.StatusNoContent))
		}

		_, body := call("GET", "/verificar-pagamento/PAY123", "")
		Expect(body).To(HaveKeyWithValue("status", "approved"))
	})

	It("should acknowledge other notification types without touching the store", func() {
		call("POST", "/criar-pagamento", order)
		proc.set("PAY123", "approved")

		code, _ := call("POST", "/webhook", `{"type":"plan","data":{"id":"PAY123"}}`)
		Expect(code).To(Equal(http.StatusNoContent))

		_, body := call("GET", "/verificar-pagamento/PAY123", "")
		Expect(body).To(HaveKeyWithValue("status", "pending"))
	})

	It("should register nothing when the processor refuses the charge", func() {
		proc.failWrite = true

		code, body := call("POST", "/criar-pagamento", order)
		Expect(code).To(Equal(http.StatusInternalServerError))
		Expect(body["error"]).To(ContainSubstring("Invalid users involved"))
		Expect(store.Len()).To(BeZero())

		for _, guess := range []string{"PAY123", "1", "PAY124"} {
			code, body = call("GET", "/verificar-pagamento/"+guess, "")
			Expect(code).To(Equal(http.StatusNotFound))
			Expect(body).To(Equal(map[string]interface{}{"status": "nao_encontrado"}))
		}
	})

	It("should answer 202 for notifications about payments the processor does not know", func() {
		code, _ := call("POST", "/webhook?type=payment&data.id=PAY404", "")
		Expect(code).To(Equal(http.StatusAccepted))

		code, _ = call("GET", "/verificar-pagamento/PAY404", "")
		Expect(code).To(Equal(http.StatusNotFound))
	})

	Context("ambient routes", func() {
		It("should report health per component", func() {
			code, body := call("GET", "/api/health", "")
			Expect(code).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("status", "healthy"))

			dbErr = errors.New("connection refused")
			code, body = call("GET", "/api/health", "")
			Expect(code).To(Equal(http.StatusServiceUnavailable))
			Expect(body).To(HaveKeyWithValue("status", "unhealthy"))
		})

		It("should answer ping", func() {
			code, body := call("GET", "/api/ping", "")
			Expect(code).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("status", "OK"))
		})

		It("should expose prometheus metrics", func() {
			call("POST", "/criar-pagamento", order)

			resp, err := http.Get(server.URL + "/metrics")
			Expect(err).ToNot(HaveOccurred())
			defer resp.Body.Close()
			raw, _ := io.ReadAll(resp.Body)

			Expect(string(raw)).To(ContainSubstring("pix_payments_created_total"))
			Expect(string(raw)).To(ContainSubstring(`route="/criar-pagamento"`))
		})

		It("should serve the openapi document", func() {
			resp, err := http.Get(server.URL + "/openapi.yml")
			Expect(err).ToNot(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should answer unknown routes with a json 404", func() {
			code, body := call("GET", "/nope", "")
			Expect(code).To(Equal(http.StatusNotFound))
			Expect(body).To(HaveKey("error"))
		})
	})
})
