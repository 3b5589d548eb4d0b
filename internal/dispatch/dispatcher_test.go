package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/waflowhq/waflow/internal/config"
)

func TestDispatcherDeliversEvent(t *testing.T) {
	t.Parallel()

	received := make(chan Event, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(TenantHeader); got != "tenant-1" {
			t.Errorf("unexpected tenant header: %s", got)
		}
		var event Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			t.Errorf("decode event: %v", err)
		}
		received <- event
	}))
	defer server.Close()

	dispatcher := NewDispatcher(nil, config.AutomationConfig{
		URL: server.URL, TimeoutSeconds: 2, MaxRetries: 1, QueueSize: 4,
	})
	dispatcher.Start(context.Background())
	defer dispatcher.Stop()

	dispatcher.Enqueue(Event{
		MessageID: "wamid.1", FromExternalID: "4915551234", Type: "text",
		Content: json.RawMessage(`{"body":"hi"}`), TenantID: "tenant-1",
	})

	select {
	case event := <-received:
		if event.MessageID != "wamid.1" || event.FromExternalID != "4915551234" {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event never delivered")
	}
}

func TestDispatcherRetriesWithBackoff(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	var mu sync.Mutex
	deliveryIDs := map[string]struct{}{}
	done := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		deliveryIDs[r.Header.Get(DeliveryHeader)] = struct{}{}
		mu.Unlock()
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		close(done)
	}))
	defer server.Close()

	dispatcher := NewDispatcher(nil, config.AutomationConfig{
		URL: server.URL, TimeoutSeconds: 2, MaxRetries: 4, QueueSize: 4,
	})
	dispatcher.backoffBase = time.Millisecond
	dispatcher.Start(context.Background())
	defer dispatcher.Stop()

	dispatcher.Enqueue(Event{MessageID: "wamid.retry", TenantID: "tenant-1"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("delivery never succeeded, attempts = %d", attempts.Load())
	}
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(deliveryIDs) != 1 {
		t.Fatalf("delivery id changed across retries: %v", deliveryIDs)
	}
	for id := range deliveryIDs {
		if id == "" {
			t.Fatal("delivery id header missing")
		}
	}
}

func TestDispatcherDropsAfterRetriesExhausted(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dispatcher := NewDispatcher(nil, config.AutomationConfig{
		URL: server.URL, TimeoutSeconds: 2, MaxRetries: 2, QueueSize: 4,
	})
	dispatcher.backoffBase = time.Millisecond
	dispatcher.Start(context.Background())

	dispatcher.Enqueue(Event{MessageID: "wamid.doomed", TenantID: "tenant-1"})
	dispatcher.Stop()

	// Initial attempt plus MaxRetries, then the event is dropped.
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestEnqueueNeverBlocks(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	dispatcher := NewDispatcher(nil, config.AutomationConfig{
		URL: server.URL, TimeoutSeconds: 1, MaxRetries: 0, QueueSize: 1,
	})
	dispatcher.Start(context.Background())

	start := time.Now()
	for i := 0; i < 100; i++ {
		dispatcher.Enqueue(Event{MessageID: "wamid.flood", TenantID: "tenant-1"})
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Enqueue blocked for %s with a stuck downstream", elapsed)
	}
}

func TestEnqueueWithoutURLIsNoop(t *testing.T) {
	t.Parallel()

	dispatcher := NewDispatcher(nil, config.AutomationConfig{QueueSize: 1})
	dispatcher.Enqueue(Event{MessageID: "wamid.1"})
	dispatcher.Enqueue(Event{MessageID: "wamid.2"})
}
