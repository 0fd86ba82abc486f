package cachex

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNilClientReportsNotInitialized(t *testing.T) {
	var c *Client
	ctx := context.Background()
	if err := c.SetString(ctx, "k", "v", time.Minute); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, _, err := c.GetString(ctx, "k"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
}

func TestNewRequiresAddr(t *testing.T) {
	if _, err := NewWithOptions(Options{}); err == nil {
		t.Fatalf("expected error without address")
	}
	c, err := NewWithOptions(Options{Addr: "127.0.0.1:6379", Prefix: "tapistry:"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()
	if got := c.key("aid"); got != "tapistry:aid" {
		t.Fatalf("unexpected prefixed key %q", got)
	}
}
