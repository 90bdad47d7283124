package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"balltickets/entity"
)

// SignatureHeader carries the hex HMAC-SHA256 of the callback body.
const SignatureHeader = "X-Gateway-Signature"

type PaymentClient struct {
	baseURL    string
	returnURL  string
	secret     []byte
	httpClient *http.Client
}

func NewPaymentClient(baseURL, returnURL string, secret []byte) PaymentClient {
	if baseURL == "" {
		panic("missing payment gateway url")
	}
	if len(secret) == 0 {
		panic("missing payment gateway secret")
	}

	return PaymentClient{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		returnURL: returnURL,
		secret:    secret,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type createPaymentRequest struct {
	OrderID   string            `json:"order_id"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	ReturnURL string            `json:"return_url"`
	Metadata  map[string]string `json:"metadata"`
}

type createPaymentResponse struct {
	OrderID    string `json:"order_id"`
	AccessCode string `json:"access_code"`
	URL        string `json:"url"`
}

func (c PaymentClient) CreatePayment(ctx context.Context, request entity.PaymentRequest) (entity.PaymentRedirect, error) {
	var resp createPaymentResponse
	status, err := c.post(ctx, "/payments", createPaymentRequest{
		OrderID:   request.OrderID,
		Amount:    int64(request.Amount),
		Currency:  request.Currency,
		ReturnURL: c.returnURL,
		Metadata:  request.Metadata,
	}, &resp)
	if err != nil {
		return entity.PaymentRedirect{}, err
	}

	switch status {
	case http.StatusOK, http.StatusCreated:
		return entity.PaymentRedirect{
			OrderID:    resp.OrderID,
			AccessCode: resp.AccessCode,
			URL:        resp.URL,
		}, nil
	default:
		return entity.PaymentRedirect{}, fmt.Errorf("unexpected status code for POST /payments: %d", status)
	}
}

type refundRequest struct {
	GatewayID string `json:"gateway_id"`
	Amount    int64  `json:"amount"`
}

type refundResponse struct {
	Success  bool   `json:"success"`
	Refunded int64  `json:"refunded"`
	RefundID string `json:"refund_id"`
}

func (c PaymentClient) Refund(ctx context.Context, gatewayID string, amount entity.Money) (entity.GatewayRefund, error) {
	var resp refundResponse
	status, err := c.post(ctx, "/refunds", refundRequest{
		GatewayID: gatewayID,
		Amount:    int64(amount),
	}, &resp)
	if err != nil {
		return entity.GatewayRefund{}, err
	}

	switch status {
	case http.StatusOK, http.StatusCreated:
		return entity.GatewayRefund{
			Success:   resp.Success,
			Refunded:  entity.Money(resp.Refunded),
			GatewayID: resp.RefundID,
		}, nil
	case http.StatusUnprocessableEntity:
		// declined, not an outage
		return entity.GatewayRefund{Success: false}, nil
	default:
		return entity.GatewayRefund{}, fmt.Errorf("unexpected status code for POST /refunds: %d", status)
	}
}

type callbackPayload struct {
	OrderID    string `json:"order_id"`
	ResultCode string `json:"result_code"`
	Charged    int64  `json:"charged"`
	GatewayID  string `json:"gateway_id"`
}

// VerifyCallback decodes a callback and checks its signature. A bad signature
// is reported through SignatureValid, not as an error, so the caller can
// raise it as a security event.
func (c PaymentClient) VerifyCallback(payload []byte, signature string) (entity.GatewayCallback, error) {
	return verifyCallback(c.secret, payload, signature)
}

func verifyCallback(secret, payload []byte, signature string) (entity.GatewayCallback, error) {
	var p callbackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return entity.GatewayCallback{}, fmt.Errorf("could not decode callback: %w", err)
	}
	if p.OrderID == "" {
		return entity.GatewayCallback{}, fmt.Errorf("callback has no order id")
	}

	return entity.GatewayCallback{
		OrderID:        p.OrderID,
		ResultCode:     p.ResultCode,
		Charged:        entity.Money(p.Charged),
		GatewayID:      p.GatewayID,
		SignatureValid: validSignature(secret, payload, signature),
	}, nil
}

// Sign returns the signature the gateway sends for payload.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret, payload []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), got)
}

func (c PaymentClient) post(ctx context.Context, path string, body any, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("could not marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(c.secret, payload))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("could not decode response of POST %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}
