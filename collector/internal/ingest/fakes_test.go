package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"tapistry/shared/events"
	"tapistry/shared/lockx"
	"tapistry/shared/mqx"
)

type fakePublisher struct {
	mu     sync.Mutex
	err    error
	topics map[string][]mqx.Message
}

func (f *fakePublisher) PublishBatch(_ context.Context, topic string, msgs []mqx.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil && topic != events.TopicIngestStats {
		return f.err
	}
	if f.topics == nil {
		f.topics = map[string][]mqx.Message{}
	}
	f.topics[topic] = append(f.topics[topic], msgs...)
	return nil
}

type fakeStore struct {
	err      error
	projects []string
	stored   []events.Record
}

func (f *fakeStore) InsertBatch(_ context.Context, projectID string, _ time.Time, _ events.SDKInfo, recs []events.Record) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.projects = append(f.projects, projectID)
	f.stored = append(f.stored, recs...)
	return len(recs), nil
}

type fakePoints struct {
	err    error
	points []*write.Point
}

func (f *fakePoints) WritePoints(_ context.Context, points ...*write.Point) error {
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, points...)
	return nil
}

type fakeDedupe struct {
	err  error
	seen map[string]bool
}

func (f *fakeDedupe) Claim(_ context.Context, id string) (*lockx.Lock, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[id] {
		return nil, nil
	}
	f.seen[id] = true
	return &lockx.Lock{Key: id, Token: "t"}, nil
}

func (f *fakeDedupe) Forget(_ context.Context, lock *lockx.Lock) error {
	delete(f.seen, lock.Key)
	return nil
}

func rec(id string, kind events.Kind, session string) events.Record {
	return events.NewRecord(events.Envelope{
		ID: id, TS: 1_700_000_000_000, SessionID: session, AnonymousID: "anon",
		URL: "https://shop.example.com/", Path: "/",
	}, events.Event{Kind: kind})
}

func batchOf(recs ...events.Record) events.Batch {
	return events.Batch{SDK: events.SDKInfo{Name: "tapistry-go", Version: "0.1.0"}, Events: recs}
}

func batchN(n int) events.Batch {
	recs := make([]events.Record, 0, n)
	for i := range n {
		recs = append(recs, rec(fmt.Sprintf("r%d", i), events.KindClick, "s1"))
	}
	return batchOf(recs...)
}
