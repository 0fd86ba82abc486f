package repos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tapistry/shared/events"
)

var ErrNotInitialized = errors.New("event repo not initialized")

// DBTX is the part of pgxpool.Pool the repo uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id           text PRIMARY KEY,
	project_id   text NOT NULL,
	type         text NOT NULL,
	ts           timestamptz NOT NULL,
	session_id   text NOT NULL,
	anonymous_id text NOT NULL,
	user_id      text,
	url          text NOT NULL DEFAULT '',
	path         text NOT NULL DEFAULT '',
	viewport_w   integer NOT NULL DEFAULT 0,
	viewport_h   integer NOT NULL DEFAULT 0,
	payload      jsonb NOT NULL DEFAULT '{}'::jsonb,
	sdk_name     text NOT NULL DEFAULT '',
	sdk_version  text NOT NULL DEFAULT '',
	received_at  timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS events_project_ts_idx ON events (project_id, ts);
CREATE INDEX IF NOT EXISTS events_session_idx ON events (session_id);
`

const insertEvent = `
INSERT INTO events (
	id, project_id, type, ts, session_id, anonymous_id, user_id, url, path, viewport_w, viewport_h, payload, sdk_name, sdk_version, received_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
)
ON CONFLICT (id) DO NOTHING
`

type EventRepo struct {
	db DBTX
}

func NewEventRepo(db DBTX) *EventRepo {
	return &EventRepo{db: db}
}

func (r *EventRepo) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return ErrNotInitialized
	}
	_, err := r.db.Exec(ctx, schema)
	return err
}

// InsertBatch stores every record of b for projectID and reports how many
// rows were new. Records already stored are skipped.
func (r *EventRepo) InsertBatch(ctx context.Context, projectID string, receivedAt time.Time, sdk events.SDKInfo, recs []events.Record) (int, error) {
	if r == nil || r.db == nil {
		return 0, ErrNotInitialized
	}
	if len(recs) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, rec := range recs {
		args, err := insertArgs(projectID, receivedAt, sdk, rec)
		if err != nil {
			return 0, err
		}
		batch.Queue(insertEvent, args...)
	}

	results := r.db.SendBatch(ctx, batch)
	inserted := 0
	for i := range recs {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return inserted, fmt.Errorf("insert event %s: %w", recs[i].ID, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, results.Close()
}

func insertArgs(projectID string, receivedAt time.Time, sdk events.SDKInfo, rec events.Record) ([]any, error) {
	payload := []byte("{}")
	if len(rec.Payload) > 0 {
		b, err := json.Marshal(rec.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload of %s: %w", rec.ID, err)
		}
		payload = b
	}
	return []any{
		rec.ID,
		projectID,
		string(rec.Kind),
		rec.CapturedAt().UTC(),
		rec.SessionID,
		rec.AnonymousID,
		rec.UserID,
		rec.URL,
		rec.Path,
		rec.Viewport.W,
		rec.Viewport.H,
		payload,
		sdk.Name,
		sdk.Version,
		receivedAt.UTC(),
	}, nil
}
