package trendapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chimera-factory/chimera/internal/domain/task"
	"github.com/chimera-factory/chimera/internal/port/capability"
)

// memCache is a minimal in-memory cache for tests.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestInvokeParsesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/research" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"payload":              map[string]any{"topic": "ai-agents"},
			"confidence":           0.87,
			"sensitive_categories": []string{"politics"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil, time.Minute)
	res, err := c.Invoke(context.Background(), &task.Task{ID: "t1", Context: json.RawMessage(`{"q":"ai"}`)})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Confidence != 0.87 {
		t.Errorf("confidence = %v, want 0.87", res.Confidence)
	}
	if len(res.SensitiveCategories) != 1 || res.SensitiveCategories[0] != "politics" {
		t.Errorf("sensitive categories = %v, want [politics]", res.SensitiveCategories)
	}
}

func TestInvokeUsesCache(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{"payload": map[string]any{}, "confidence": 0.9})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, newMemCache(), time.Minute)
	tk := &task.Task{ID: "t1", Context: json.RawMessage(`{"q":"same"}`)}

	for range 3 {
		if _, err := c.Invoke(context.Background(), tk); err != nil {
			t.Fatalf("Invoke: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls)
	}

	// A different context misses the cache.
	other := &task.Task{ID: "t2", Context: json.RawMessage(`{"q":"other"}`)}
	if _, err := c.Invoke(context.Background(), other); err != nil {
		t.Fatalf("Invoke other: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 upstream calls, got %d", calls)
	}
}

func TestInvokeServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil, time.Minute)
	_, err := c.Invoke(context.Background(), &task.Task{ID: "t1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !capability.IsTransient(err) {
		t.Errorf("5xx should be transient, got %v", err)
	}
}

func TestInvokeClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad context", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil, time.Minute)
	_, err := c.Invoke(context.Background(), &task.Task{ID: "t1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if capability.IsTransient(err) {
		t.Errorf("4xx should be permanent, got %v", err)
	}
}

func TestInvokeConnectionRefusedIsTransient(t *testing.T) {
	// Point at a server that is already closed.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(url, time.Second, nil, time.Minute)
	_, err := c.Invoke(context.Background(), &task.Task{ID: "t1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !capability.IsTransient(err) {
		t.Errorf("connection failure should be transient, got %v", err)
	}
}
