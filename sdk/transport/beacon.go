package transport

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tapistry/shared/logx"
)

// Beacon schedules a fire-and-forget POST. A true result only means the
// request was accepted for sending.
type Beacon interface {
	SendBeacon(url string, body []byte) bool
}

type beaconRequest struct {
	url  string
	body []byte
}

// HTTPBeacon queues beacons in memory and sends them from one goroutine.
// The queue is bounded; a full or closed beacon refuses new work.
type HTTPBeacon struct {
	client *http.Client
	log    logx.Logger
	queue  chan beaconRequest
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

const DefaultBeaconQueue = 32

func NewHTTPBeacon(timeout time.Duration, capacity int, log logx.Logger) *HTTPBeacon {
	return NewHTTPBeaconWith(&http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}, capacity, log)
}

func NewHTTPBeaconWith(client *http.Client, capacity int, log logx.Logger) *HTTPBeacon {
	if capacity <= 0 {
		capacity = DefaultBeaconQueue
	}
	b := &HTTPBeacon{
		client: client,
		log:    log,
		queue:  make(chan beaconRequest, capacity),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *HTTPBeacon) SendBeacon(url string, body []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.queue <- beaconRequest{url: url, body: bytes.Clone(body)}:
		return true
	default:
		return false
	}
}

func (b *HTTPBeacon) run() {
	defer close(b.done)
	for req := range b.queue {
		b.send(req)
	}
}

func (b *HTTPBeacon) send(req beaconRequest) {
	ctx := context.Background()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.url, bytes.NewReader(req.body))
	if err != nil {
		b.log.Debug(ctx, "beacon_failed", "beacon request invalid", slog.String("error", err.Error()))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(httpReq)
	if err != nil {
		b.log.Debug(ctx, "beacon_failed", "beacon not delivered", slog.String("error", err.Error()))
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		b.log.Debug(ctx, "beacon_rejected", "beacon rejected", slog.Int("status_code", resp.StatusCode))
	}
}

// Close stops accepting beacons and waits for queued ones to go out.
func (b *HTTPBeacon) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
