// Package identity persists the small set of identifiers the SDK keeps
// across page loads.
package identity

import (
	"context"
	"errors"
	"time"
)

const (
	KeyAnonymousID = "tapistry_aid"
	KeyUserID      = "tapistry_uid"
	// TTL applies to both persisted identifiers.
	TTL = 365 * 24 * time.Hour
)

var ErrUnavailable = errors.New("identity store unavailable")

// Store is a string key/value store with per-key expiry. A ttl of zero
// means no expiry.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
}

// Nop is a store that is entirely unavailable.
type Nop struct{}

func (Nop) Get(context.Context, string) (string, bool, error) { return "", false, ErrUnavailable }

func (Nop) Set(context.Context, string, string, time.Duration) error { return ErrUnavailable }

func (Nop) Remove(context.Context, string) error { return ErrUnavailable }

// Chain tries each store in order. Reads and writes stop at the first store
// that does not fail; a clean miss counts as an answer. Removes go to every
// store.
type Chain []Store

func (c Chain) Get(ctx context.Context, key string) (string, bool, error) {
	errs := make([]error, 0, len(c))
	for _, s := range c {
		v, ok, err := s.Get(ctx, key)
		if err == nil {
			return v, ok, nil
		}
		errs = append(errs, err)
	}
	return "", false, joinOrUnavailable(errs)
}

func (c Chain) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	errs := make([]error, 0, len(c))
	for _, s := range c {
		err := s.Set(ctx, key, value, ttl)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return joinOrUnavailable(errs)
}

func (c Chain) Remove(ctx context.Context, key string) error {
	var errs []error
	ok := false
	for _, s := range c {
		if err := s.Remove(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		ok = true
	}
	if ok {
		return nil
	}
	return joinOrUnavailable(errs)
}

func joinOrUnavailable(errs []error) error {
	if len(errs) == 0 {
		return ErrUnavailable
	}
	return errors.Join(errs...)
}
