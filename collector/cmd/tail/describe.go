package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"tapistry/shared/events"
)

type line struct {
	ProjectID string
	Kind      events.Kind
	Record    events.Record
}

// describe decodes a published message and its embedded record.
func describe(value []byte) (line, error) {
	var msg events.Message
	if err := json.Unmarshal(value, &msg); err != nil {
		return line{}, fmt.Errorf("decode message: %w", err)
	}
	if len(msg.Record) == 0 {
		return line{}, errors.New("message has no record")
	}
	var rec events.Record
	if err := json.Unmarshal(msg.Record, &rec); err != nil {
		return line{}, fmt.Errorf("decode record: %w", err)
	}
	kind := rec.Kind
	if kind == "" {
		kind = msg.Kind
	}
	return line{ProjectID: msg.ProjectID, Kind: kind, Record: rec}, nil
}

func (l line) Summary() string {
	switch l.Kind {
	case events.KindPageView:
		return "page_view " + l.Record.Path
	case events.KindClick:
		return fmt.Sprintf("click %v at %v,%v", l.Record.Payload["selector_hash"], l.Record.Payload["x"], l.Record.Payload["y"])
	case events.KindScroll:
		return fmt.Sprintf("scroll %v%%", l.Record.Payload["max_depth_pct"])
	case events.KindCustom:
		return fmt.Sprintf("custom %v", l.Record.Payload["name"])
	}
	return string(l.Kind)
}

func (l line) Attrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("project_id", l.ProjectID),
		slog.String("type", string(l.Kind)),
		slog.String("session_id", l.Record.SessionID),
		slog.String("anonymous_id", l.Record.AnonymousID),
	}
	if l.Record.UserID != nil {
		attrs = append(attrs, slog.String("user_id", *l.Record.UserID))
	}
	return attrs
}

type kindFilter map[events.Kind]bool

func parseKinds(raw string) kindFilter {
	f := kindFilter{}
	for _, part := range strings.Split(raw, ",") {
		if k := events.Kind(strings.TrimSpace(part)); k != "" {
			f[k] = true
		}
	}
	return f
}

func (f kindFilter) allows(k events.Kind) bool {
	return len(f) == 0 || f[k]
}
