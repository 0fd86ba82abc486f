package main

import (
	"encoding/json"
	"testing"
	"time"

	"tapistry/shared/events"
)

func TestDescribeDecodesEmbeddedRecord(t *testing.T) {
	rec := events.NewRecord(events.Envelope{
		ID:        "e-1",
		TS:        1700000000000,
		SessionID: "s-1",
		Path:      "/pricing",
	}, events.Event{Kind: events.KindPageView, Payload: map[string]any{"title": "Pricing"}})
	msg, err := events.NewMessage("proj", time.Unix(1, 0), events.Batch{}, rec)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	l, err := describe(raw)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if l.ProjectID != "proj" || l.Kind != events.KindPageView {
		t.Fatalf("unexpected line: %+v", l)
	}
	if got := l.Summary(); got != "page_view /pricing" {
		t.Fatalf("unexpected summary %q", got)
	}
}

func TestDescribeRejectsEmptyRecord(t *testing.T) {
	if _, err := describe([]byte(`{"project_id":"p"}`)); err == nil {
		t.Fatalf("expected error for missing record")
	}
	if _, err := describe([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for bad json")
	}
}

func TestKindFilter(t *testing.T) {
	all := parseKinds("")
	if !all.allows(events.KindClick) {
		t.Fatalf("empty filter must allow everything")
	}
	some := parseKinds("click, scroll")
	if !some.allows(events.KindScroll) || some.allows(events.KindPageView) {
		t.Fatalf("unexpected filter %v", some)
	}
}
