// Package ingest accepts SDK batches and fans them out to Kafka, Postgres
// and InfluxDB.
package ingest

import (
	"errors"
	"fmt"

	"tapistry/shared/events"
)

var (
	ErrEmptyBatch    = errors.New("batch has no events")
	ErrTooManyEvents = errors.New("batch has too many events")
	// ErrUnavailable marks failures the sender should retry.
	ErrUnavailable = errors.New("downstream unavailable")
)

// ValidateBatch checks b before anything is published. A single bad record
// rejects the batch so the client does not retry it forever.
func ValidateBatch(b events.Batch, maxEvents int) error {
	if len(b.Events) == 0 {
		return ErrEmptyBatch
	}
	if maxEvents > 0 && len(b.Events) > maxEvents {
		return fmt.Errorf("%w: %d > %d", ErrTooManyEvents, len(b.Events), maxEvents)
	}
	for i, rec := range b.Events {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
	}
	return nil
}
