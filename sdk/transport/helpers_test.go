package transport

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"tapistry/sdk/clock/clocktest"
	"tapistry/shared/config"
	"tapistry/shared/events"
)

type fakeSession struct {
	uid string
}

func (fakeSession) SessionID() string   { return "sess-1" }
func (fakeSession) AnonymousID() string { return "anon-1" }
func (f fakeSession) UserID() (string, bool) {
	return f.uid, f.uid != ""
}

type fakePage struct {
	url   string
	panic bool
}

func (f fakePage) URL() string {
	if f.panic {
		panic("page gone")
	}
	return f.url
}
func (fakePage) Viewport() events.Viewport { return events.Viewport{W: 1280, H: 800} }
func (fakePage) Client() events.ClientInfo {
	return events.ClientInfo{TZ: "UTC", Lang: "en-US", Screen: &events.Screen{W: 1920, H: 1080}}
}

// scriptedDeliverer returns the queued results in order, then succeeds.
type scriptedDeliverer struct {
	mu        sync.Mutex
	results   []error
	attempts  [][]string
	delivered [][]string
	onDeliver func(attempt int)
	unloadOK  bool
	unloads   [][]string
}

func ids(b events.Batch) []string {
	out := make([]string, 0, len(b.Events))
	for _, r := range b.Events {
		out = append(out, r.ID)
	}
	return out
}

func (d *scriptedDeliverer) Deliver(_ context.Context, b events.Batch) error {
	d.mu.Lock()
	d.attempts = append(d.attempts, ids(b))
	attempt := len(d.attempts)
	var err error
	if len(d.results) > 0 {
		err, d.results = d.results[0], d.results[1:]
	}
	if err == nil {
		d.delivered = append(d.delivered, ids(b))
	}
	hook := d.onDeliver
	d.mu.Unlock()
	if hook != nil {
		hook(attempt)
	}
	return err
}

func (d *scriptedDeliverer) DeliverUnload(b events.Batch) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unloadOK {
		d.unloads = append(d.unloads, ids(b))
	}
	return d.unloadOK
}

func letterIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%c", 'A'+n-1)
	}
}

func numberedIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("e%04d", n)
	}
}

func testConfig(o config.SDKOverrides) *config.Store {
	base := config.SDKOverrides{
		ProjectKey: config.Ptr("pk_test"),
		Transport: &config.TransportOverrides{
			BatchSize:    config.Ptr(2),
			BatchTimeout: config.Ptr(time.Second),
			MaxRetries:   config.Ptr(3),
			BaseBackoff:  config.Ptr(200 * time.Millisecond),
			MaxBackoff:   config.Ptr(10 * time.Second),
		},
	}
	s := config.NewStore(base)
	s.Update(o)
	return s
}

func newTestPipeline(t *testing.T, cfg *config.Store, d Deliverer, page Page) (*Pipeline, *clocktest.Fake) {
	t.Helper()
	clk := clocktest.New(time.Unix(1_700_000_000, 0))
	if page == nil {
		page = fakePage{url: "https://shop.example.com/Cart/?utm_source=ad&token=x#top"}
	}
	p := NewPipeline(cfg, fakeSession{}, page, d,
		WithClock(clk),
		WithSpawn(func(f func()) { f() }),
		WithIDGenerator(letterIDs()),
		WithRand(func() float64 { return 0 }),
	)
	return p, clk
}

func click() events.Event {
	return events.Event{Kind: events.KindClick, Payload: map[string]any{"x": 0.5}}
}
