package payment_test

import (
	"context"
	goerrors "errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/pix-payments/internal"
	paymentgatewaytypes "github.com/frahmantamala/pix-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/pix-payments/internal/paymentgateway"
	"github.com/frahmantamala/pix-payments/internal/payment"
)

const webhookURL = "https://pix.example.com/webhook"

func pixRequest() *payment.CreatePaymentRequest {
	return &payment.CreatePaymentRequest{
		Amount: decimal.RequireFromString("1.00"),
		Method: "pix",
		Payer:  payment.PayerRequest{Email: "a@b.com"},
	}
}

var _ = Describe("MapGatewayStatus", func() {
	DescribeTable("should fold processor statuses",
		func(raw string, expected payment.Status) {
			Expect(payment.MapGatewayStatus(raw)).To(Equal(expected))
		},
		Entry("approved", "approved", payment.StatusApproved),
		Entry("pending", "pending", payment.StatusPending),
		Entry("in_process", "in_process", payment.StatusPending),
		Entry("authorized", "authorized", payment.StatusPending),
		Entry("in_mediation", "in_mediation", payment.StatusPending),
		Entry("rejected", "rejected", payment.StatusRejected),
		Entry("cancelled", "cancelled", payment.StatusRejected),
		Entry("refunded", "refunded", payment.StatusRejected),
		Entry("charged_back", "charged_back", payment.StatusRejected),
		Entry("empty", "", payment.StatusUnknown),
		Entry("unexpected", "something_new", payment.StatusUnknown),
	)
})

var _ = Describe("Reconciler", func() {
	var (
		ctx        context.Context
		gateway    *fakeGateway
		store      *payment.MemoryStore
		publisher  *recordingPublisher
		registry   *prometheus.Registry
		reconciler *payment.Reconciler
	)

	BeforeEach(func() {
		ctx = context.Background()
		gateway = newFakeGateway()
		gateway.created = &paymentgatewaytypes.PaymentResult{
			ID:           "PAY123",
			Status:       "pending",
			StatusDetail: "pending_waiting_transfer",
			QRCode:       "00020126...",
			QRCodeBase64: "iVBORw0KGgo=",
			TicketURL:    "https://mp.example/ticket",
		}
		store = payment.NewMemoryStore()
		publisher = &recordingPublisher{}
		registry = prometheus.NewRegistry()
		reconciler = payment.NewReconciler(gateway, store, publisher, payment.NewMetrics(registry), payment.Config{
			WebhookURL:         webhookURL,
			DefaultDescription: "Inscrição para o evento/curso",
		}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	})

	Describe("CreatePayment", func() {
		It("should register a pending pix payment and return the QR data", func() {
			resp, err := reconciler.CreatePayment(ctx, pixRequest())
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.ID).To(Equal("PAY123"))
			Expect(resp.Status).To(Equal(payment.StatusPending))
			Expect(resp.QRCode).To(Equal("00020126..."))
			Expect(resp.QRCodeBase64).To(Equal("iVBORw0KGgo="))
			Expect(resp.TicketURL).To(Equal("https://mp.example/ticket"))
			Expect(resp.Detail).To(BeEmpty())

			record, err := reconciler.VerifyPayment(ctx, "PAY123")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.Status).To(Equal(payment.StatusPending))
			Expect(record.Method).To(Equal("pix"))
			Expect(record.Amount.String()).To(Equal("1"))
			Expect(store.Len()).To(Equal(1))
		})

		It("should attach the configured webhook url, default description and an idempotency key", func() {
			_, err := reconciler.CreatePayment(ctx, pixRequest())
			Expect(err).ToNot(HaveOccurred())

			Expect(gateway.orders).To(HaveLen(1))
			order := gateway.orders[0]
			Expect(order.NotificationURL).To(Equal(webhookURL))
			Expect(order.Description).To(Equal("Inscrição para o evento/curso"))
			Expect(order.IdempotencyKey).ToNot(BeEmpty())
			Expect(order.PayerEmail).To(Equal("a@b.com"))
		})

		It("should default an empty method to pix", func() {
			req := pixRequest()
			req.Method = ""
			_, err := reconciler.CreatePayment(ctx, req)
			Expect(err).ToNot(HaveOccurred())
			Expect(gateway.orders[0].Method).To(Equal("pix"))
		})

		It("should return the status detail for card payments", func() {
			gateway.created = &paymentgatewaytypes.PaymentResult{ID: "CARD1", Status: "approved", StatusDetail: "accredited"}
			req := pixRequest()
			req.Method = "card"
			req.Card = &payment.CardRequest{Token: "tok", Installments: 3, PaymentMethodID: "visa"}

			resp, err := reconciler.CreatePayment(ctx, req)
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(payment.StatusApproved))
			Expect(resp.Detail).To(Equal("accredited"))
			Expect(resp.QRCode).To(BeEmpty())

			order := gateway.orders[0]
			Expect(order.CardToken).To(Equal("tok"))
			Expect(order.Installments).To(Equal(3))
			Expect(order.PaymentMethodID).To(Equal("visa"))
		})

		DescribeTable("should reject invalid input without calling the gateway",
			func(mutate func(*payment.CreatePaymentRequest)) {
				req := pixRequest()
				mutate(req)

				_, err := reconciler.CreatePayment(ctx, req)
				appErr, ok := errors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Type).To(Equal(errors.ErrorTypeValidation))
				Expect(appErr.StatusCode).To(Equal(400))
				Expect(gateway.orders).To(BeEmpty())
				Expect(store.Len()).To(BeZero())
			},
			Entry("missing email", func(r *payment.CreatePaymentRequest) { r.Payer.Email = "" }),
			Entry("malformed email", func(r *payment.CreatePaymentRequest) { r.Payer.Email = "not-an-email" }),
			Entry("zero amount", func(r *payment.CreatePaymentRequest) { r.Amount = decimal.Zero }),
			Entry("negative amount", func(r *payment.CreatePaymentRequest) { r.Amount = decimal.RequireFromString("-5") }),
			Entry("unknown method", func(r *payment.CreatePaymentRequest) { r.Method = "boleto" }),
			Entry("card without token", func(r *payment.CreatePaymentRequest) {
				r.Method = "card"
				r.Card = &payment.CardRequest{PaymentMethodID: "visa"}
			}),
			Entry("card without card data", func(r *payment.CreatePaymentRequest) { r.Method = "card" }),
		)

		It("should register nothing when the gateway fails", func() {
			gateway.createErr = &paymentgateway.GatewayError{Op: "create", StatusCode: 400, Detail: "Invalid user identification number"}

			_, err := reconciler.CreatePayment(ctx, pixRequest())
			Expect(goerrors.Is(err, errors.ErrPaymentCreationFailed)).To(BeTrue())
			appErr, _ := errors.IsAppError(err)
			Expect(appErr.StatusCode).To(Equal(500))
			Expect(appErr.Message).To(ContainSubstring("Invalid user identification number"))

			Expect(store.Len()).To(BeZero())
			_, err = reconciler.VerifyPayment(ctx, "PAY123")
			Expect(err).To(MatchError(payment.ErrPaymentNotFound))
			Expect(publisher.statuses()).To(BeEmpty())
		})

		It("should count creations by outcome", func() {
			_, _ = reconciler.CreatePayment(ctx, pixRequest())
			gateway.createErr = goerrors.New("timeout")
			_, _ = reconciler.CreatePayment(ctx, pixRequest())

			count, err := testutil.GatherAndCount(registry, "pix_payments_created_total")
			Expect(err).ToNot(HaveOccurred())
			Expect(count).To(Equal(2))
		})

		It("should keep an approval that a webhook stored before the create response was applied", func() {
			gateway.onCreate = func() {
				gateway.setStatus("PAY123", "approved", "accredited")
				outcome, err := reconciler.HandleNotification(ctx, &payment.Notification{Type: "payment", ResourceID: "PAY123"})
				Expect(err).ToNot(HaveOccurred())
				Expect(outcome).To(Equal(payment.OutcomeProcessed))
			}

			resp, err := reconciler.CreatePayment(ctx, pixRequest())
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.Status).To(Equal(payment.StatusApproved))
			Expect(resp.QRCode).To(Equal("00020126..."))

			record, err := store.Get(ctx, "PAY123")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.Status).To(Equal(payment.StatusApproved))
			Expect(record.StatusDetail).To(Equal("accredited"))
			Expect(record.Method).To(Equal("pix"))
			Expect(record.Amount.Equal(decimal.RequireFromString("1.00"))).To(BeTrue())
			Expect(publisher.statuses()).To(Equal([]string{"approved"}))
		})

		It("should publish the initial status", func() {
			_, err := reconciler.CreatePayment(ctx, pixRequest())
			Expect(err).ToNot(HaveOccurred())
			Expect(publisher.statuses()).To(Equal([]string{"pending"}))
		})
	})

	Describe("VerifyPayment", func() {
		It("should return not found for ids never created", func() {
			for _, id := range []string{"PAY999", "", "../etc"} {
				_, err := reconciler.VerifyPayment(ctx, id)
				Expect(err).To(MatchError(payment.ErrPaymentNotFound))
			}
		})

		It("should not contact the gateway", func() {
			_, err := reconciler.CreatePayment(ctx, pixRequest())
			Expect(err).ToNot(HaveOccurred())

			_, err = reconciler.VerifyPayment(ctx, "PAY123")
			Expect(err).ToNot(HaveOccurred())
			Expect(gateway.fetchCount()).To(BeZero())
		})
	})

	Describe("HandleNotification", func() {
		BeforeEach(func() {
			_, err := reconciler.CreatePayment(ctx, pixRequest())
			Expect(err).ToNot(HaveOccurred())
		})

		It("should store the re-fetched approval", func() {
			gateway.setStatus("PAY123", "approved", "accredited")

			outcome, err := reconciler.HandleNotification(ctx, &payment.Notification{Type: "payment", ResourceID: "PAY123"})
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome).To(Equal(payment.OutcomeProcessed))

			record, _ := reconciler.VerifyPayment(ctx, "PAY123")
			Expect(record.Status).To(Equal(payment.StatusApproved))
			Expect(record.StatusDetail).To(Equal("accredited"))
			Expect(record.Method).To(Equal("pix"))
			Expect(publisher.statuses()).To(Equal([]string{"pending", "approved"}))
		})

		It("should ignore non-payment events and leave the store unchanged", func() {
			outcome, err := reconciler.HandleNotification(ctx, &payment.Notification{Type: "merchant_order", ResourceID: "PAY123"})
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome).To(Equal(payment.OutcomeIgnored))
			Expect(gateway.fetchCount()).To(BeZero())

			record, _ := reconciler.VerifyPayment(ctx, "PAY123")
			Expect(record.Status).To(Equal(payment.StatusPending))
		})

		It("should leave the store untouched when the re-fetch fails", func() {
			gateway.fetchErr = &paymentgateway.GatewayError{Op: "fetch", Detail: "timeout"}

			outcome, err := reconciler.HandleNotification(ctx, &payment.Notification{Type: "payment", ResourceID: "PAY123"})
			Expect(err).To(HaveOccurred())
			Expect(outcome).To(Equal(payment.OutcomeFetchFailed))

			record, _ := reconciler.VerifyPayment(ctx, "PAY123")
			Expect(record.Status).To(Equal(payment.StatusPending))
		})

		It("should report a store failure apart from a re-fetch failure", func() {
			failing := &failingStore{MemoryStore: payment.NewMemoryStore(), failPut: true}
			failRegistry := prometheus.NewRegistry()
			r := payment.NewReconciler(gateway, failing, publisher, payment.NewMetrics(failRegistry), payment.Config{WebhookURL: webhookURL},
				slog.New(slog.NewTextHandler(io.Discard, nil)))
			gateway.setStatus("PAY123", "approved", "accredited")

			outcome, err := r.HandleNotification(ctx, &payment.Notification{Type: "payment", ResourceID: "PAY123"})
			Expect(err).To(HaveOccurred())
			Expect(outcome).To(Equal(payment.OutcomeStoreFailed))
			_, isGateway := paymentgateway.IsGatewayError(err)
			Expect(isGateway).To(BeFalse())

			gateway.fetchErr = &paymentgateway.GatewayError{Op: "fetch", Detail: "timeout"}
			outcome, err = r.HandleNotification(ctx, &payment.Notification{Type: "payment", ResourceID: "PAY123"})
			Expect(err).To(HaveOccurred())
			Expect(outcome).To(Equal(payment.OutcomeFetchFailed))

			expected := `
# HELP pix_payments_notifications_total Webhook notifications by outcome.
# TYPE pix_payments_notifications_total counter
pix_payments_notifications_total{outcome="fetch_failed"} 1
pix_payments_notifications_total{outcome="store_failed"} 1
`
			Expect(testutil.GatherAndCompare(failRegistry, strings.NewReader(expected), "pix_payments_notifications_total")).To(Succeed())
		})

		It("should never trust a status carried by the notification", func() {
			outcome, err := reconciler.HandleNotification(ctx, &payment.Notification{Type: "payment", Action: "payment.updated", ResourceID: "PAY123"})
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome).To(Equal(payment.OutcomeProcessed))

			record, _ := reconciler.VerifyPayment(ctx, "PAY123")
			Expect(record.Status).To(Equal(payment.StatusPending))
		})

		It("should be idempotent for repeated deliveries", func() {
			gateway.setStatus("PAY123", "approved", "accredited")
			n := &payment.Notification{Type: "payment", ResourceID: "PAY123"}

			_, err := reconciler.HandleNotification(ctx, n)
			Expect(err).ToNot(HaveOccurred())
			once, _ := reconciler.VerifyPayment(ctx, "PAY123")

			for i := 0; i < 5; i++ {
				_, err := reconciler.HandleNotification(ctx, n)
				Expect(err).ToNot(HaveOccurred())
			}
			many, _ := reconciler.VerifyPayment(ctx, "PAY123")

			Expect(many.Status).To(Equal(once.Status))
			Expect(many.StatusDetail).To(Equal(once.StatusDetail))
			Expect(publisher.statuses()).To(Equal([]string{"pending", "approved"}))
		})

		It("should converge to approved for concurrent deliveries", func() {
			gateway.setStatus("PAY123", "approved", "accredited")

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := reconciler.HandleNotification(ctx, &payment.Notification{Type: "payment", ResourceID: "PAY123"})
					Expect(err).ToNot(HaveOccurred())
				}()
			}
			wg.Wait()

			record, _ := reconciler.VerifyPayment(ctx, "PAY123")
			Expect(record.Status).To(Equal(payment.StatusApproved))
		})

		It("should keep a settled status when a later read is stale", func() {
			gateway.setStatus("PAY123", "approved", "accredited")
			_, err := reconciler.HandleNotification(ctx, &payment.Notification{Type: "payment", ResourceID: "PAY123"})
			Expect(err).ToNot(HaveOccurred())

			gateway.setStatus("PAY123", "pending", "pending_waiting_transfer")
			_, err = reconciler.HandleNotification(ctx, &payment.Notification{Type: "payment", ResourceID: "PAY123"})
			Expect(err).ToNot(HaveOccurred())

			record, _ := reconciler.VerifyPayment(ctx, "PAY123")
			Expect(record.Status).To(Equal(payment.StatusApproved))
		})

		It("should apply a settled to settled change such as a refund", func() {
			gateway.setStatus("PAY123", "approved", "accredited")
			_, _ = reconciler.HandleNotification(ctx, &payment.Notification{Type: "payment", ResourceID: "PAY123"})

			gateway.setStatus("PAY123", "refunded", "refunded")
			_, err := reconciler.HandleNotification(ctx, &payment.Notification{Type: "payment", ResourceID: "PAY123"})
			Expect(err).ToNot(HaveOccurred())

			record, _ := reconciler.VerifyPayment(ctx, "PAY123")
			Expect(record.Status).To(Equal(payment.StatusRejected))
			Expect(record.StatusDetail).To(Equal("refunded"))
		})

		It("should register a payment first seen through a webhook", func() {
			gateway.setStatus("EXT1", "approved", "accredited")
			_, err := reconciler.HandleNotification(ctx, &payment.Notification{Type: "payment", ResourceID: "EXT1"})
			Expect(err).ToNot(HaveOccurred())

			record, err := reconciler.VerifyPayment(ctx, "EXT1")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.Status).To(Equal(payment.StatusApproved))
			Expect(record.CreatedAt).ToNot(BeZero())
		})

		It("should count notifications by outcome", func() {
			_, _ = reconciler.HandleNotification(ctx, &payment.Notification{Type: "payment", ResourceID: "PAY123"})
			_, _ = reconciler.HandleNotification(ctx, &payment.Notification{Type: "plan", ResourceID: "x"})
			gateway.fetchErr = &paymentgateway.GatewayError{Op: "fetch", Detail: "down"}
			_, _ = reconciler.HandleNotification(ctx, &payment.Notification{Type: "payment", ResourceID: "PAY123"})

			count, err := testutil.GatherAndCount(registry, "pix_payments_notifications_total")
			Expect(err).ToNot(HaveOccurred())
			Expect(count).To(Equal(3))
		})
	})

	Describe("Reconcile", func() {
		It("should refresh a record on demand", func() {
			_, err := reconciler.CreatePayment(ctx, pixRequest())
			Expect(err).ToNot(HaveOccurred())
			gateway.setStatus("PAY123", "rejected", "cc_rejected_other_reason")

			record, err := reconciler.Reconcile(ctx, "PAY123", "reconcile")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.Status).To(Equal(payment.StatusRejected))
		})

		It("should surface gateway errors for unknown ids", func() {
			_, err := reconciler.Reconcile(ctx, "NOPE", "reconcile")
			_, ok := paymentgateway.IsGatewayError(err)
			Expect(ok).To(BeTrue())
		})
	})
})
