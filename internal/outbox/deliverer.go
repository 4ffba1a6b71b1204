package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPDeliverer posts deliveries to the connector gateway that owns the
// vendor-specific wire formats. Routes follow /{destination}/{action}.
type HTTPDeliverer struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewHTTPDeliverer constructs an HTTPDeliverer for the given gateway.
func NewHTTPDeliverer(baseURL string, authToken string, timeout time.Duration) *HTTPDeliverer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPDeliverer{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
	}
}

// Deliver implements Deliverer.
func (d *HTTPDeliverer) Deliver(ctx context.Context, delivery Delivery) error {
	body, err := json.Marshal(map[string]any{
		"entity_type": delivery.EntityType,
		"entity_key":  delivery.EntityKey,
		"payload":     delivery.Payload,
	})
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s", d.baseURL, delivery.Destination, delivery.Action)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if d.authToken != "" {
		request.Header.Set("Authorization", "Bearer "+d.authToken)
	}

	response, err := d.client.Do(request)
	if err != nil {
		return fmt.Errorf("connector call: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return fmt.Errorf("connector returned status %d: %s", response.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
