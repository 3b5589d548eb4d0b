// Package dispatch forwards normalized inbound events to the external
// automation engine. Delivery is at-least-once with bounded retry and is
// fully decoupled from webhook acknowledgement: the triggering request never
// observes the outcome.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waflowhq/waflow/internal/config"
)

// TenantHeader identifies the source tenant on egress requests.
const TenantHeader = "X-Tenant-ID"

// DeliveryHeader carries a fresh id per delivery attempt chain so the
// automation engine can dedupe retried posts.
const DeliveryHeader = "X-Delivery-ID"

const defaultWorkers = 4

// Event is the normalized payload handed to the automation engine.
type Event struct {
	MessageID        string          `json:"messageId"`
	FromExternalID   string          `json:"fromExternalId"`
	Type             string          `json:"type"`
	Content          json.RawMessage `json:"content"`
	Timestamp        string          `json:"timestampISO8601"`
	TenantID         string          `json:"tenantId"`
	ChannelAccountID string          `json:"channelAccountId"`
}

// Dispatcher runs a background worker pool fed by a bounded queue.
type Dispatcher struct {
	url         string
	maxRetries  int
	backoffBase time.Duration
	httpClient  *http.Client
	logger      *slog.Logger

	queue chan Event
	wg    sync.WaitGroup

	stopOnce sync.Once
}

func NewDispatcher(log *slog.Logger, cfg config.AutomationConfig) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultDispatchQueueSize
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = config.DefaultDispatchRetries
	}
	return &Dispatcher{
		url:         cfg.URL,
		maxRetries:  maxRetries,
		backoffBase: 500 * time.Millisecond,
		httpClient:  &http.Client{Timeout: cfg.Timeout()},
		logger:      log.With(slog.String("service", "automation_dispatcher")),
		queue:       make(chan Event, queueSize),
	}
}

// Start launches the worker pool. Workers drain the queue until Stop closes
// it; ctx bounds in-flight delivery attempts.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < defaultWorkers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for event := range d.queue {
				d.deliver(ctx, event)
			}
		}()
	}
}

// Stop closes the queue and waits for workers to drain it.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}

// Enqueue hands an event to the worker pool without blocking. When the queue
// is full the event is dropped and logged: the message is already durable in
// the ledger, so only automation triggering is delayed or lost.
func (d *Dispatcher) Enqueue(event Event) {
	if d.url == "" {
		return
	}
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("dispatch queue full, event dropped",
			slog.String("message_id", event.MessageID),
			slog.String("tenant_id", event.TenantID))
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event Event) {
	// One id across all retries of the same event.
	deliveryID := uuid.NewString()
	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := d.backoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
		if lastErr = d.post(ctx, event, deliveryID); lastErr == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		d.logger.Warn("automation dispatch attempt failed",
			slog.String("message_id", event.MessageID),
			slog.Int("attempt", attempt+1),
			slog.Any("error", lastErr))
	}
	d.logger.Error("automation dispatch exhausted retries, event dropped",
		slog.String("message_id", event.MessageID),
		slog.String("tenant_id", event.TenantID),
		slog.Any("error", lastErr))
}

func (d *Dispatcher) post(ctx context.Context, event Event, deliveryID string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TenantHeader, event.TenantID)
	req.Header.Set(DeliveryHeader, deliveryID)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("automation engine returned %d", resp.StatusCode)
	}
	return nil
}
