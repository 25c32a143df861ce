// Package trendapi provides the HTTP client for the trend research
// capability service.
package trendapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/chimera-factory/chimera/internal/domain/task"
	"github.com/chimera-factory/chimera/internal/port/cache"
	"github.com/chimera-factory/chimera/internal/port/capability"
	"github.com/chimera-factory/chimera/internal/resilience"
)

// response is the capability service's wire format for one invocation.
type response struct {
	Payload             json.RawMessage `json:"payload"`
	Confidence          float64         `json:"confidence"`
	SensitiveCategories []string        `json:"sensitive_categories,omitempty"`
}

// Client invokes the trend research service. Responses are cached:
// trend lookups for the same context within the TTL hit the cache
// instead of the service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
	cache      cache.Cache
	cacheTTL   time.Duration
}

// New creates a trend research client.
func New(baseURL string, timeout time.Duration, c cache.Cache, cacheTTL time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cache:      c,
		cacheTTL:   cacheTTL,
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Type reports the task type this client serves.
func (c *Client) Type() task.Type {
	return task.TypeTrendResearch
}

// Invoke runs trend research for the task. Open circuits, timeouts, and
// 5xx responses come back wrapped as transient so the caller releases
// the task instead of burning a retry.
func (c *Client) Invoke(ctx context.Context, t *task.Task) (*task.Result, error) {
	key := cacheKey(t.Context)

	if c.cache != nil {
		if data, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			var cached response
			if err := json.Unmarshal(data, &cached); err == nil {
				slog.Debug("trend cache hit", "task_id", t.ID)
				return toResult(&cached), nil
			}
		}
	}

	body, err := json.Marshal(map[string]any{
		"task_id": t.ID,
		"context": t.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal trend request: %w", err)
	}

	data, err := doRequest(ctx, c.httpClient, c.breaker, c.baseURL+"/v1/research", body)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal trend response: %w", err)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, data, c.cacheTTL); err != nil {
			slog.Warn("trend cache set failed", "error", err)
		}
	}

	return toResult(&resp), nil
}

func cacheKey(context json.RawMessage) string {
	sum := sha256.Sum256(context)
	return "trends:" + hex.EncodeToString(sum[:])
}

func toResult(resp *response) *task.Result {
	return &task.Result{
		Payload:             resp.Payload,
		Confidence:          resp.Confidence,
		SensitiveCategories: resp.SensitiveCategories,
	}
}

// doRequest posts JSON to the capability service and classifies failures.
func doRequest(ctx context.Context, httpClient *http.Client, breaker *resilience.Breaker, url string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := httpClient.Do(req)
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

	if breaker != nil {
		if err := breaker.Execute(call); err != nil {
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
