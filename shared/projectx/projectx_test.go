package projectx

import (
	"context"
	"testing"
)

func TestKeyless(t *testing.T) {
	if !(Project{ID: Anonymous, Source: "keyless"}).Keyless() {
		t.Fatalf("expected keyless project")
	}
	if (Project{ID: "shop", Key: "pk"}).Keyless() {
		t.Fatalf("expected keyed project")
	}
}

func TestSlotExposesInnerProject(t *testing.T) {
	outer := WithSlot(context.Background())
	if _, ok := SlotProject(outer); ok {
		t.Fatalf("slot should start empty")
	}
	_ = WithProject(outer, Project{ID: "shop", Source: "jwt"})
	p, ok := SlotProject(outer)
	if !ok || p.ID != "shop" {
		t.Fatalf("expected inner project through slot, got %+v ok=%v", p, ok)
	}
}
