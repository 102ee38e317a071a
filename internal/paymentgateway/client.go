package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	paymentgatewaytypes "github.com/frahmantamala/pix-payments/internal/core/datamodel/paymentgateway"
)

const defaultAPIURL = "https://api.mercadopago.com"

// GatewayError is returned for every failed processor call. It never implies a
// payment outcome.
type GatewayError struct {
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	b.WriteString("payment gateway ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " returned status %d", e.StatusCode)
	} else {
		b.WriteString(" failed")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func IsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

type Client struct {
	apiURL         string
	accessToken    string
	paymentTimeout time.Duration
	httpClient     *http.Client
	logger         *slog.Logger
}

type Config struct {
	APIURL         string
	AccessToken    string
	PaymentTimeout time.Duration
	HTTPClient     *http.Client
}

func NewClient(config Config, logger *slog.Logger) *Client {
	apiURL := strings.TrimRight(config.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	timeout := config.PaymentTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		apiURL:         apiURL,
		accessToken:    config.AccessToken,
		paymentTimeout: timeout,
		httpClient:     httpClient,
		logger:         logger,
	}
}

func (c *Client) CreatePayment(ctx context.Context, order *paymentgatewaytypes.Order) (*paymentgatewaytypes.PaymentResult, error) {
	if err := order.Validate(); err != nil {
		return nil, &GatewayError{Op: "create", Detail: err.Error(), Err: err}
	}

	methodID := paymentgatewaytypes.MethodPix
	if order.Method == paymentgatewaytypes.MethodCard {
		methodID = order.PaymentMethodID
	}

	body := paymentgatewaytypes.CreatePaymentRequest{
		TransactionAmount: json.Number(order.Amount.String()),
		Description:       order.Description,
		PaymentMethodID:   methodID,
		Payer:             paymentgatewaytypes.Payer{Email: order.PayerEmail},
		NotificationURL:   order.NotificationURL,
	}
	if order.Method == paymentgatewaytypes.MethodCard {
		body.Token = order.CardToken
		body.Installments = order.Installments
		if body.Installments <= 0 {
			body.Installments = 1
		}
		body.IssuerID = order.IssuerID
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, &GatewayError{Op: "create", Err: fmt.Errorf("failed to marshal payment request: %w", err)}
	}

	c.logger.Info("creating payment with processor",
		"method", order.Method,
		"amount", order.Amount.String(),
		"idempotency_key", order.IdempotencyKey)

	headers := http.Header{}
	if order.IdempotencyKey != "" {
		headers.Set("X-Idempotency-Key", order.IdempotencyKey)
	}

	var apiResponse paymentgatewaytypes.PaymentResponse
	if err := c.do(ctx, "create", http.MethodPost, "/v1/payments", bytes.NewReader(jsonData), headers, &apiResponse); err != nil {
		return nil, err
	}
	if apiResponse.ID == "" {
		return nil, &GatewayError{Op: "create", Detail: "response carries no payment id"}
	}

	result := apiResponse.ToResult()
	c.logger.Info("payment created with processor",
		"payment_id", result.ID,
		"status", result.Status,
		"status_detail", result.StatusDetail)

	return result, nil
}

func (c *Client) FetchPayment(ctx context.Context, id string) (*paymentgatewaytypes.PaymentResult, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &GatewayError{Op: "fetch", Detail: "payment id is required"}
	}

	var apiResponse paymentgatewaytypes.PaymentResponse
	if err := c.do(ctx, "fetch", http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, nil, &apiResponse); err != nil {
		return nil, err
	}

	result := apiResponse.ToResult()
	if result.ID == "" {
		result.ID = id
	}

	c.logger.Debug("payment fetched from processor",
		"payment_id", result.ID,
		"status", result.Status)

	return result, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, headers http.Header, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.paymentTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return &GatewayError{Op: op, Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header[k] = v
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("payment gateway request failed", "op", op, "error", err)
		return &GatewayError{Op: op, Err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gwErr := &GatewayError{Op: op, StatusCode: resp.StatusCode}
		var apiErr paymentgatewaytypes.ErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr); err == nil {
			gwErr.Detail = apiErr.Diagnostic()
		}
		c.logger.Warn("payment gateway rejected request",
			"op", op,
			"status_code", resp.StatusCode,
			"detail", gwErr.Detail)
		return gwErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return nil
}
