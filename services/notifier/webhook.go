package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pavitra93/go-multi-tenant-pos/shared/events"
	"github.com/pavitra93/go-multi-tenant-pos/shared/utils"
	"github.com/sirupsen/logrus"
)

// errRejected marks a webhook response that retrying will not fix
var errRejected = errors.New("webhook rejected event")

// WebhookClient forwards session events to an HTTP endpoint
type WebhookClient struct {
	endpoint   string
	httpClient *http.Client
	breaker    *utils.CircuitBreaker

	mutex       sync.RWMutex
	delivered   int64
	dropped     int64
	lastSuccess time.Time
	lastError   error
}

// NewWebhookClient creates a new webhook client
func NewWebhookClient(endpoint string) *WebhookClient {
	return &WebhookClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: utils.NewNamedCircuitBreaker("webhook", 5, 30*time.Second),
	}
}

// Deliver sends one event. Events the endpoint rejects with a 4xx are dropped;
// other failures are returned so the consumer retries them.
func (c *WebhookClient) Deliver(ctx context.Context, event events.SessionEvent) error {
	var rejected error
	err := c.breaker.Call(func() error {
		err := c.send(ctx, event)
		if errors.Is(err, errRejected) {
			// the endpoint is healthy, the event is not
			rejected = err
			return nil
		}
		return err
	})
	if err == nil && rejected != nil {
		err = rejected
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	switch {
	case err == nil:
		c.delivered++
		c.lastSuccess = time.Now()
		c.lastError = nil
		return nil
	case errors.Is(err, errRejected):
		c.dropped++
		c.lastError = err
		logrus.WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
			"tenant":     event.TenantSlug,
		}).WithError(err).Error("Dropping session event")
		return nil
	default:
		c.lastError = err
		return err
	}
}

func (c *WebhookClient) send(ctx context.Context, event events.SessionEvent) error {
	payload, err := json.Marshal(map[string]interface{}{
		"event_type": event.Type,
		"data":       event,
		"timestamp":  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to marshal event: %v", errRejected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", event.TenantID.String())
	req.Header.Set("X-Event-ID", event.ID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", errRejected, resp.StatusCode)
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}

// GetStatus returns the delivery status
func (c *WebhookClient) GetStatus() map[string]interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var lastError string
	if c.lastError != nil {
		lastError = c.lastError.Error()
	}
	return map[string]interface{}{
		"endpoint":      c.endpoint,
		"circuit_state": c.breaker.GetState(),
		"delivered":     c.delivered,
		"dropped":       c.dropped,
		"last_success":  c.lastSuccess,
		"last_error":    lastError,
	}
}
