// Package engagementapi provides the HTTP client for the engagement
// management capability service.
package engagementapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/chimera-factory/chimera/internal/domain/task"
	"github.com/chimera-factory/chimera/internal/port/capability"
	"github.com/chimera-factory/chimera/internal/resilience"
)

type response struct {
	Payload             json.RawMessage `json:"payload"`
	Confidence          float64         `json:"confidence"`
	SensitiveCategories []string        `json:"sensitive_categories,omitempty"`
}

// Client invokes the engagement management service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// New creates an engagement management client.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Type reports the task type this client serves.
func (c *Client) Type() task.Type {
	return task.TypeEngagement
}

// Invoke runs engagement actions for the task.
func (c *Client) Invoke(ctx context.Context, t *task.Task) (*task.Result, error) {
	body, err := json.Marshal(map[string]any{
		"task_id": t.ID,
		"context": t.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal engagement request: %w", err)
	}

	data, err := c.doRequest(ctx, c.baseURL+"/v1/engage", body)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal engagement response: %w", err)
	}

	return &task.Result{
		Payload:             resp.Payload,
		Confidence:          resp.Confidence,
		SensitiveCategories: resp.SensitiveCategories,
	}, nil
}

func (c *Client) doRequest(ctx context.Context, url string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return capability.Transient(fmt.Errorf("capability timeout: %w", err))
			}
			return capability.Transient(fmt.Errorf("http request: %w", err))
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return capability.Transient(fmt.Errorf("capability error %d: %s", resp.StatusCode, string(data)))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("capability error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return nil, capability.Transient(err)
			}
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
