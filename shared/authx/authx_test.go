package authx

import (
	"errors"
	"testing"
	"time"

	"tapistry/shared/config"
	"tapistry/shared/projectx"
)

func TestParseStaticKeys(t *testing.T) {
	got, err := ParseStaticKeys([]string{"pk_live_1:shop", " pk_live_2 : blog "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got["pk_live_1"] != "shop" || got["pk_live_2"] != "blog" {
		t.Fatalf("unexpected keys: %v", got)
	}
	if _, err := ParseStaticKeys([]string{"no-separator"}); err == nil {
		t.Fatalf("expected error for malformed entry")
	}
}

func TestResolve(t *testing.T) {
	secret := "s3cret"
	r, err := NewResolver(config.Config{ProjectKeys: []string{"pk_static:shop"}, ProjectKeySecret: secret, AllowKeyless: true})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}

	p, err := r.Resolve("")
	if err != nil || p.ID != projectx.Anonymous || !p.Keyless() {
		t.Fatalf("expected keyless project, got %+v err=%v", p, err)
	}

	p, err = r.Resolve("pk_static")
	if err != nil || p.ID != "shop" || p.Source != "static" {
		t.Fatalf("expected static project, got %+v err=%v", p, err)
	}

	minted, err := MintProjectKey([]byte(secret), "blog", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	p, err = r.Resolve(minted)
	if err != nil || p.ID != "blog" || p.Source != "jwt" {
		t.Fatalf("expected jwt project, got %+v err=%v", p, err)
	}

	if _, err := r.Resolve("pk_unknown"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
}

func TestResolveRejectsKeylessWhenDisabled(t *testing.T) {
	r, err := NewResolver(config.Config{})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	if _, err := r.Resolve(" "); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
}

func TestVerifyProjectKey(t *testing.T) {
	secret := []byte("k1")
	past := time.Now().Add(-2 * time.Hour)
	expired, err := MintProjectKey(secret, "shop", time.Minute, past)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := VerifyProjectKey(secret, expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired key to fail, got %v", err)
	}

	forever, err := MintProjectKey(secret, "shop", 0, time.Now())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := VerifyProjectKey([]byte("other"), forever); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected wrong secret to fail, got %v", err)
	}
	id, err := VerifyProjectKey(secret, forever)
	if err != nil || id != "shop" {
		t.Fatalf("expected shop, got %q err=%v", id, err)
	}
}
