package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"tapistry/shared/events"
	"tapistry/shared/influxx"
	"tapistry/shared/lockx"
	"tapistry/shared/logx"
	"tapistry/shared/metricsx"
	"tapistry/shared/mqx"
)

type Publisher interface {
	PublishBatch(ctx context.Context, topic string, msgs []mqx.Message) error
}

type Router interface {
	ResolveCluster(projectID string) (string, bool)
	ResolveTopic(kind events.Kind) string
}

type EventStore interface {
	InsertBatch(ctx context.Context, projectID string, receivedAt time.Time, sdk events.SDKInfo, recs []events.Record) (int, error)
}

type PointWriter interface {
	WritePoints(ctx context.Context, points ...*write.Point) error
}

// Deduper is a claim-once window keyed by record id.
type Deduper interface {
	Claim(ctx context.Context, id string) (*lockx.Lock, error)
	Forget(ctx context.Context, lock *lockx.Lock) error
}

// ProcessorConfig wires the optional sinks. A nil sink is skipped.
type ProcessorConfig struct {
	Log        logx.Logger
	Router     Router
	Publishers map[string]Publisher
	Store      EventStore
	Points     PointWriter
	Dedupe     Deduper
}

type Processor struct {
	log        logx.Logger
	router     Router
	publishers map[string]Publisher
	store      EventStore
	points     PointWriter
	dedupe     Deduper
}

type Result struct {
	Accepted   int
	Duplicates int
	Stored     int
}

func NewProcessor(c ProcessorConfig) *Processor {
	return &Processor{
		log:        c.Log,
		router:     c.Router,
		publishers: c.Publishers,
		store:      c.Store,
		points:     c.Points,
		dedupe:     c.Dedupe,
	}
}

// Accept implements Sink by processing the batch in the request.
func (p *Processor) Accept(ctx context.Context, projectID string, receivedAt time.Time, b events.Batch) error {
	_, err := p.Process(ctx, projectID, receivedAt, b)
	return err
}

// Process de-duplicates b, publishes and stores the fresh records and
// writes a stats point. When publishing or storing fails the claims are
// given back so a retried batch is processed again.
func (p *Processor) Process(ctx context.Context, projectID string, receivedAt time.Time, b events.Batch) (Result, error) {
	ctx, span := otel.Tracer("ingest").Start(ctx, "ingest.process")
	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.Int("batch.events", len(b.Events)),
	)
	defer span.End()

	fresh, locks := p.claim(ctx, projectID, b.Events)
	res := Result{Accepted: len(fresh), Duplicates: len(b.Events) - len(fresh)}
	for range res.Duplicates {
		metricsx.IncDuplicate()
	}
	if len(fresh) == 0 {
		return res, nil
	}

	fail := func(stage string, err error) (Result, error) {
		p.release(ctx, locks)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.log.Error(ctx, "ingest_failed", "batch not ingested",
			slog.String("error_code", "UNAVAILABLE"),
			slog.String("stage", stage),
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
		return Result{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, stage, err)
	}

	if err := p.publish(ctx, projectID, receivedAt, b, fresh); err != nil {
		return fail("kafka", err)
	}
	if p.store != nil {
		n, err := p.store.InsertBatch(ctx, projectID, receivedAt, b.SDK, fresh)
		if err != nil {
			return fail("postgres", err)
		}
		res.Stored = n
	}

	for _, rec := range fresh {
		metricsx.IncIngested(string(rec.Kind))
	}
	p.writeStats(ctx, projectID, receivedAt, b, fresh, res)
	return res, nil
}

func (p *Processor) claim(ctx context.Context, projectID string, recs []events.Record) ([]events.Record, []*lockx.Lock) {
	if p.dedupe == nil {
		return recs, nil
	}
	fresh := make([]events.Record, 0, len(recs))
	locks := make([]*lockx.Lock, 0, len(recs))
	for _, rec := range recs {
		lock, err := p.dedupe.Claim(ctx, projectID+":"+rec.ID)
		switch {
		case err != nil:
			// Without the window the record is processed; duplicates are
			// tolerated downstream.
			p.log.Warn(ctx, "dedupe_unavailable", "dedupe claim failed",
				slog.String("error_code", "UNAVAILABLE"), slog.String("error", err.Error()))
			fresh = append(fresh, rec)
		case lock == nil:
			continue
		default:
			fresh = append(fresh, rec)
			locks = append(locks, lock)
		}
	}
	return fresh, locks
}

func (p *Processor) release(ctx context.Context, locks []*lockx.Lock) {
	for _, l := range locks {
		if err := p.dedupe.Forget(context.WithoutCancel(ctx), l); err != nil {
			p.log.Warn(ctx, "dedupe_release_failed", "dedupe claim not released",
				slog.String("key", l.Key), slog.String("error", err.Error()))
		}
	}
}

func (p *Processor) publisher(projectID string) (Publisher, string, error) {
	if p.router == nil {
		return nil, "", errors.New("no router configured")
	}
	cluster, ok := p.router.ResolveCluster(projectID)
	if !ok {
		return nil, "", fmt.Errorf("no route for project %q", projectID)
	}
	pub, ok := p.publishers[cluster]
	if !ok || pub == nil {
		return nil, cluster, fmt.Errorf("cluster %q has no producer", cluster)
	}
	return pub, cluster, nil
}

func (p *Processor) publish(ctx context.Context, projectID string, receivedAt time.Time, b events.Batch, recs []events.Record) error {
	if len(p.publishers) == 0 {
		return nil
	}
	pub, cluster, err := p.publisher(projectID)
	if err != nil {
		return err
	}

	byTopic := map[string][]mqx.Message{}
	order := make([]string, 0, 2)
	for _, rec := range recs {
		msg, err := events.NewMessage(projectID, receivedAt, b, rec)
		if err != nil {
			return fmt.Errorf("encode %s: %w", rec.ID, err)
		}
		value, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode %s: %w", rec.ID, err)
		}
		topic := p.router.ResolveTopic(rec.Kind)
		if _, seen := byTopic[topic]; !seen {
			order = append(order, topic)
		}
		byTopic[topic] = append(byTopic[topic], mqx.Message{
			Key:   []byte(rec.SessionID),
			Value: value,
			Headers: map[string]string{
				"project_id":  projectID,
				"type":        string(rec.Kind),
				"sdk_version": b.SDK.Version,
				"cluster":     cluster,
			},
		})
	}
	for _, topic := range order {
		if err := pub.PublishBatch(ctx, topic, byTopic[topic]); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	return nil
}

type batchStats struct {
	ProjectID  string         `json:"project_id"`
	ReceivedAt time.Time      `json:"received_at"`
	SDK        events.SDKInfo `json:"sdk"`
	Accepted   int            `json:"accepted"`
	Duplicates int            `json:"duplicates"`
	Kinds      map[string]int `json:"kinds"`
}

// writeStats records per-batch counters. Failures are logged only.
func (p *Processor) writeStats(ctx context.Context, projectID string, receivedAt time.Time, b events.Batch, recs []events.Record, res Result) {
	kinds := map[string]int{}
	for _, rec := range recs {
		kinds[string(rec.Kind)]++
	}

	if p.points != nil {
		fields := map[string]any{
			"accepted":   res.Accepted,
			"duplicates": res.Duplicates,
		}
		for k, n := range kinds {
			fields["kind_"+k] = n
		}
		point := influxx.NewPoint("ingest_batch", map[string]string{
			"project_id":  projectID,
			"sdk_version": b.SDK.Version,
		}, fields, receivedAt)
		if err := p.points.WritePoints(ctx, point); err != nil {
			metricsx.IncInfluxWriteFailure()
			p.log.Warn(ctx, "influx_write_failed", "stats point not written",
				slog.String("error_code", "UNAVAILABLE"), slog.String("error", err.Error()))
		}
	}

	if len(p.publishers) == 0 {
		return
	}
	pub, _, err := p.publisher(projectID)
	if err != nil {
		return
	}
	value, err := json.Marshal(batchStats{
		ProjectID: projectID, ReceivedAt: receivedAt.UTC(), SDK: b.SDK,
		Accepted: res.Accepted, Duplicates: res.Duplicates, Kinds: kinds,
	})
	if err != nil {
		return
	}
	if err := pub.PublishBatch(ctx, events.TopicIngestStats, []mqx.Message{{Key: []byte(projectID), Value: value}}); err != nil {
		p.log.Warn(ctx, "stats_publish_failed", "stats message not published",
			slog.String("error_code", "UNAVAILABLE"), slog.String("error", err.Error()))
	}
}
