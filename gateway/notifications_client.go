package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"balltickets/entity"
)

type NotificationsClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewNotificationsClient(baseURL string) NotificationsClient {
	if baseURL == "" {
		panic("missing notifications url")
	}

	return NotificationsClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type notificationRequest struct {
	Recipient      string            `json:"recipient"`
	Template       string            `json:"template"`
	Context        map[string]string `json:"context"`
	IdempotencyKey string            `json:"idempotency_key"`
}

func (c NotificationsClient) SendNotification(ctx context.Context, command entity.SendNotification) error {
	body, err := json.Marshal(notificationRequest{
		Recipient:      command.Recipient,
		Template:       command.Template,
		Context:        command.Context,
		IdempotencyKey: command.Header.IdempotencyKey,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// already delivered
		return nil
	case http.StatusCreated, http.StatusAccepted:
		return nil
	default:
		return fmt.Errorf("unexpected status code for PUT /notifications: %d", resp.StatusCode)
	}
}
