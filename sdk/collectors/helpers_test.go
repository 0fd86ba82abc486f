package collectors

import (
	"sync"
	"testing"
	"time"

	"tapistry/sdk/clock/clocktest"
	"tapistry/sdk/page"
	"tapistry/shared/config"
	"tapistry/shared/events"
)

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Enqueue(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) all() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, len(s.events))
	copy(out, s.events)
	return out
}

type fixture struct {
	sink  *recordingSink
	page  *page.State
	cfg   *config.Store
	clock *clocktest.Fake
}

func newFixture(t *testing.T, o config.SDKOverrides) fixture {
	t.Helper()
	return fixture{
		sink: &recordingSink{},
		page: page.New(page.Info{
			URL:      "https://shop.example.com/?utm_source=news",
			Title:    "Home",
			Referrer: "https://search.example.com/",
			Viewport: events.Viewport{W: 1280, H: 500},
		}),
		cfg:   config.NewStore(o),
		clock: clocktest.New(time.Unix(1_700_000_000, 0)),
	}
}
