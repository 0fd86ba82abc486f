package projectx

import (
	"context"
	"sync/atomic"
)

// Anonymous is the project keyless beacons are attributed to.
const Anonymous = "anonymous"

type contextKey struct{}

type Project struct {
	ID string
	// Key is the presented project key. Empty for keyless requests.
	Key string
	// Source says how the key was resolved: "static", "jwt" or "keyless".
	Source string
}

func (p Project) Keyless() bool { return p.Key == "" }

type slotKey struct{}

// slot lets an outer middleware see the project an inner one resolved. The
// inner handler may run on another goroutine under a timeout.
type slot struct{ p atomic.Pointer[Project] }

// WithSlot prepares ctx so that a later WithProject further down the chain
// is also visible through SlotProject on this ctx.
func WithSlot(ctx context.Context) context.Context {
	return context.WithValue(ctx, slotKey{}, &slot{})
}

func SlotProject(ctx context.Context) (Project, bool) {
	if s, ok := ctx.Value(slotKey{}).(*slot); ok {
		if p := s.p.Load(); p != nil {
			return *p, true
		}
	}
	return Project{}, false
}

func WithProject(ctx context.Context, p Project) context.Context {
	if s, ok := ctx.Value(slotKey{}).(*slot); ok {
		cp := p
		s.p.Store(&cp)
	}
	return context.WithValue(ctx, contextKey{}, p)
}
