// Package sms delivers one-time codes through an external SMS gateway.
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/bazar-auth/internal/phone"
	"github.com/smallbiznis/bazar-auth/internal/repository"
)

// HTTPGateway posts code messages to a provider HTTP API. Delivery is best
// effort: the auth flows treat a failed send as a warning, not an error.
type HTTPGateway struct {
	endpoint   string
	apiKey     string
	sender     string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ repository.CodeTransport = (*HTTPGateway)(nil)

// NewHTTPGateway constructs the gateway client. An empty endpoint yields a
// dev-mode transport that only logs the send.
func NewHTTPGateway(endpoint, apiKey, sender string, client *http.Client, logger *zap.Logger) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.L()
	}
	return &HTTPGateway{
		endpoint:   endpoint,
		apiKey:     apiKey,
		sender:     sender,
		httpClient: client,
		logger:     logger,
	}
}

// Send posts the code to the gateway.
func (g *HTTPGateway) Send(ctx context.Context, phoneNumber, code string) error {
	if strings.TrimSpace(g.endpoint) == "" {
		g.logger.Info("sms gateway disabled, skipping delivery",
			zap.String("phone", phone.Redact(phoneNumber)))
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"to":   phoneNumber,
		"from": g.sender,
		"text": fmt.Sprintf("Your verification code: %s", code),
	})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway failed: status=%d", resp.StatusCode)
	}
	return nil
}
