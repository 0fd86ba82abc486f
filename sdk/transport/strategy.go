package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"tapistry/sdk/clock"
	"tapistry/shared/config"
	"tapistry/shared/events"
	"tapistry/shared/metricsx"
)

// Deliverer moves a batch to the collector.
type Deliverer interface {
	// Deliver returns nil once the batch is accepted by a beacon or
	// confirmed by the collector.
	Deliver(ctx context.Context, b events.Batch) error
	// DeliverUnload is the page-hide path: beacon only, no confirmation.
	DeliverUnload(b events.Batch) bool
}

const IngestPath = "/i"

// Strategy prefers a beacon for small batches and falls back to a confirmed
// request.
type Strategy struct {
	cfg    *config.Store
	beacon Beacon
	sender Sender
	clock  clock.Clock
}

// NewStrategy builds a strategy. beacon may be nil when the host has none.
func NewStrategy(cfg *config.Store, beacon Beacon, sender Sender, c clock.Clock) *Strategy {
	if c == nil {
		c = clock.Real()
	}
	return &Strategy{cfg: cfg, beacon: beacon, sender: sender, clock: c}
}

func (s *Strategy) Deliver(ctx context.Context, b events.Batch) error {
	cfg := s.cfg.Snapshot()
	if cfg.ProjectKey == "" {
		return ErrMissingProjectKey
	}
	body, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	url := cfg.APIURL + IngestPath

	ctx, span := otel.Tracer("transport").Start(ctx, "tapistry.deliver")
	span.SetAttributes(
		attribute.Int("tapistry.batch.events", len(b.Events)),
		attribute.Int("tapistry.batch.bytes", len(body)),
	)
	defer span.End()

	if s.beacon != nil && len(body) < cfg.Transport.BeaconMaxBytes {
		if s.beacon.SendBeacon(url, body) {
			span.SetAttributes(attribute.String("tapistry.transport", "beacon"))
			metricsx.IncBatchSent("beacon", true)
			return nil
		}
		metricsx.IncBatchSent("beacon", false)
	}

	span.SetAttributes(attribute.String("tapistry.transport", "request"))
	if s.sender == nil {
		return fmt.Errorf("no confirmed transport configured")
	}
	err = s.sender.Post(ctx, url, cfg.ProjectKey, body, s.clock.Now())
	metricsx.IncBatchSent("request", err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Strategy) DeliverUnload(b events.Batch) bool {
	cfg := s.cfg.Snapshot()
	if cfg.ProjectKey == "" || s.beacon == nil {
		return false
	}
	body, err := json.Marshal(b)
	if err != nil {
		return false
	}
	ok := s.beacon.SendBeacon(cfg.APIURL+IngestPath, body)
	metricsx.IncBatchSent("unload", ok)
	return ok
}
