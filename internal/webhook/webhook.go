package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/config"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/events"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
)

// maxResponseBody bounds how much of a failed response is kept for the log.
const maxResponseBody = 4096

// Service delivers lifecycle events to the configured URLs
type Service struct {
	client      *http.Client
	urls        []string
	secret      string
	retryDelays []time.Duration
	logger      *logging.Logger
}

// NewService creates a new webhook service
func NewService(cfg config.WebhookConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		client: &http.Client{
			Timeout: timeout,
		},
		urls:   cfg.URLs,
		secret: cfg.Secret,
		// Deliveries are synchronous, so retries stay short.
		retryDelays: []time.Duration{
			500 * time.Millisecond,
			2 * time.Second,
		},
		logger: logger.WithComponent("webhook"),
	}
}

// Name implements events.Notifier
func (s *Service) Name() string {
	return "webhook"
}

// Notify posts the event to every URL. Each URL is retried with backoff;
// the returned error joins the URLs that never accepted the event.
func (s *Service) Notify(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var errs []error
	for _, url := range s.urls {
		if err := s.deliverWithRetry(ctx, url, event, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) deliverWithRetry(ctx context.Context, url string, event events.Event, payload []byte) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = s.deliver(ctx, url, event, payload)
		if err == nil || attempt >= len(s.retryDelays) {
			return err
		}

		s.logger.WithError(err).Debugf("Retrying %s delivery to %s", event.Type, url)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryDelays[attempt]):
		}
	}
}

// deliver attempts to deliver a webhook once
func (s *Service) deliver(ctx context.Context, url string, event events.Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mediabatch-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", event.Type)
	req.Header.Set("X-Webhook-Delivery", event.ID)

	// Add HMAC signature if secret is configured
	if s.secret != "" {
		req.Header.Set("X-Webhook-Signature", generateSignature(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

// generateSignature generates HMAC-SHA256 signature for webhook payload
func generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature reports whether signature matches payload under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(generateSignature(payload, secret)), []byte(signature))
}
