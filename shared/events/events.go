package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindPageView     Kind = "page_view"
	KindClick        Kind = "click"
	KindScroll       Kind = "scroll"
	KindCustom       Kind = "custom"
	KindIdentify     Kind = "identify"
	KindSessionStart Kind = "session_start"
	KindSessionEnd   Kind = "session_end"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPageView, KindClick, KindScroll, KindCustom, KindIdentify, KindSessionStart, KindSessionEnd:
		return true
	}
	return false
}

// Event is what a producer hands to the pipeline. CapturedAt defaults to
// the enqueue time when zero.
type Event struct {
	Kind       Kind
	CapturedAt time.Time
	Payload    map[string]any
}

type Viewport struct {
	W int `json:"w"`
	H int `json:"h"`
}

type Envelope struct {
	ID          string   `json:"id"`
	TS          int64    `json:"ts"`
	SessionID   string   `json:"session_id"`
	AnonymousID string   `json:"anonymous_id"`
	UserID      *string  `json:"user_id"`
	URL         string   `json:"url"`
	Path        string   `json:"path"`
	Viewport    Viewport `json:"viewport"`
}

// Record is a stamped event. On the wire it is one flat object where
// envelope keys take precedence over payload keys.
type Record struct {
	Envelope
	Kind    Kind
	Payload map[string]any
}

// NewRecord stamps ev with env. The payload is cloned so later changes by
// the producer do not leak into the queued record.
func NewRecord(env Envelope, ev Event) Record {
	return Record{Envelope: env, Kind: ev.Kind, Payload: maps.Clone(ev.Payload)}
}

func (r Record) CapturedAt() time.Time {
	return time.UnixMilli(r.TS)
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Payload)+9)
	for k, v := range r.Payload {
		out[k] = v
	}
	out["id"] = r.ID
	out["ts"] = r.TS
	out["type"] = r.Kind
	out["session_id"] = r.SessionID
	out["anonymous_id"] = r.AnonymousID
	out["user_id"] = r.UserID
	out["url"] = r.URL
	out["path"] = r.Path
	out["viewport"] = r.Viewport
	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var env Envelope
	fields := []struct {
		key string
		dst any
	}{
		{"id", &env.ID},
		{"ts", &env.TS},
		{"session_id", &env.SessionID},
		{"anonymous_id", &env.AnonymousID},
		{"user_id", &env.UserID},
		{"url", &env.URL},
		{"path", &env.Path},
		{"viewport", &env.Viewport},
		{"type", &r.Kind},
	}
	for _, f := range fields {
		v, ok := raw[f.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			return fmt.Errorf("field %s: %w", f.key, err)
		}
		delete(raw, f.key)
	}
	r.Envelope = env
	r.Payload = nil
	if len(raw) > 0 {
		r.Payload = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("field %s: %w", k, err)
			}
			r.Payload[k] = val
		}
	}
	return nil
}

var (
	ErrMissingID      = errors.New("record id is required")
	ErrInvalidKind    = errors.New("record type is invalid")
	ErrMissingSession = errors.New("record session_id is required")
	ErrMissingTS      = errors.New("record ts is required")
)

// Validate checks the fields a collector relies on.
func (r Record) Validate() error {
	switch {
	case r.ID == "":
		return ErrMissingID
	case !r.Kind.Valid():
		return fmt.Errorf("%w: %q", ErrInvalidKind, r.Kind)
	case r.SessionID == "":
		return ErrMissingSession
	case r.TS <= 0:
		return ErrMissingTS
	}
	return nil
}

type SDKInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Screen struct {
	W int `json:"w"`
	H int `json:"h"`
}

type ClientInfo struct {
	TZ     string  `json:"tz,omitempty"`
	Lang   string  `json:"lang,omitempty"`
	Screen *Screen `json:"screen,omitempty"`
}

// Batch is the unit of delivery.
type Batch struct {
	SDK    SDKInfo    `json:"sdk"`
	Client ClientInfo `json:"client"`
	Events []Record   `json:"events"`
}

const (
	TopicEvents      = "tapistry.events"
	TopicIngestStats = "tapistry.ingest.stats"
)

// Message is what the collector publishes to Kafka for each accepted record.
type Message struct {
	MessageID  uuid.UUID       `json:"message_id"`
	ProjectID  string          `json:"project_id"`
	ReceivedAt time.Time       `json:"received_at"`
	Kind       Kind            `json:"type"`
	SDK        SDKInfo         `json:"sdk"`
	Client     ClientInfo      `json:"client"`
	Record     json.RawMessage `json:"record"`
}

func NewMessage(projectID string, receivedAt time.Time, b Batch, r Record) (Message, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return Message{}, err
	}
	return Message{
		MessageID:  uuid.New(),
		ProjectID:  projectID,
		ReceivedAt: receivedAt.UTC(),
		Kind:       r.Kind,
		SDK:        b.SDK,
		Client:     b.Client,
		Record:     raw,
	}, nil
}
