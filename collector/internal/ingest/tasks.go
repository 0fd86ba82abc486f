package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"tapistry/shared/events"
)

const TypeIngestBatch = "ingest.batch"

type batchPayload struct {
	ProjectID  string       `json:"project_id"`
	ReceivedAt time.Time    `json:"received_at"`
	Batch      events.Batch `json:"batch"`
}

func NewBatchTask(projectID string, receivedAt time.Time, b events.Batch) (*asynq.Task, error) {
	payload, err := json.Marshal(batchPayload{ProjectID: projectID, ReceivedAt: receivedAt.UTC(), Batch: b})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeIngestBatch, payload), nil
}

// HandleBatchTask runs Process for a queued batch. Undecodable payloads are
// not retried.
func (p *Processor) HandleBatchTask(ctx context.Context, t *asynq.Task) error {
	var payload batchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s: %v: %w", TypeIngestBatch, err, asynq.SkipRetry)
	}
	_, err := p.Process(ctx, payload.ProjectID, payload.ReceivedAt, payload.Batch)
	return err
}

type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue is a Sink that defers processing to the ingest worker.
type Queue struct {
	client   Enqueuer
	queue    string
	maxRetry int
}

func NewQueue(client Enqueuer, queue string, maxRetry int) *Queue {
	return &Queue{client: client, queue: queue, maxRetry: maxRetry}
}

func (q *Queue) Accept(ctx context.Context, projectID string, receivedAt time.Time, b events.Batch) error {
	task, err := NewBatchTask(projectID, receivedAt, b)
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, task, asynq.Queue(q.queue), asynq.MaxRetry(q.maxRetry)); err != nil {
		return fmt.Errorf("%w: enqueue: %v", ErrUnavailable, err)
	}
	return nil
}
