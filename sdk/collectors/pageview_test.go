package collectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapistry/shared/events"
)

func TestPageViewStartRecordsInitialPage(t *testing.T) {
	f := newFixture(t, config0())
	pv := NewPageView(f.sink, f.page, f.clock)
	pv.Start()
	defer pv.Stop()

	got := f.sink.all()
	require.Len(t, got, 1)
	ev := got[0]
	assert.Equal(t, events.KindPageView, ev.Kind)
	assert.Equal(t, "Home", ev.Payload["title"])
	assert.Equal(t, "https://search.example.com/", ev.Payload["referrer"])
	assert.Equal(t, map[string]string{"utm_source": "news"}, ev.Payload["utm"])
	assert.Equal(t, map[string]any{"class": "desktop", "viewport": "1024-1439"}, ev.Payload["device"])
	assert.NotContains(t, ev.Payload, "prev_path")
	assert.NotContains(t, ev.Payload, "duration")
}

func TestPageViewRouteChangesAreDebounced(t *testing.T) {
	f := newFixture(t, config0())
	pv := NewPageView(f.sink, f.page, f.clock)
	pv.Start()
	defer pv.Stop()

	f.clock.Advance(5 * time.Second)
	f.page.Navigate("https://shop.example.com/a")
	f.clock.Advance(50 * time.Millisecond)
	f.page.Navigate("https://shop.example.com/b")
	f.clock.Advance(199 * time.Millisecond)
	assert.Len(t, f.sink.all(), 1, "still inside the debounce window")

	f.clock.Advance(time.Millisecond)
	got := f.sink.all()
	require.Len(t, got, 2)
	assert.Equal(t, "/", got[1].Payload["prev_path"])
	assert.Equal(t, int64(5250), got[1].Payload["duration"])
}

func TestPageViewSkipsUnchangedURL(t *testing.T) {
	f := newFixture(t, config0())
	pv := NewPageView(f.sink, f.page, f.clock)
	pv.Start()
	defer pv.Stop()

	f.page.Navigate(f.page.URL())
	f.clock.Advance(RouteDebounce)
	assert.Len(t, f.sink.all(), 1)
}

func TestTrackPageMergesProps(t *testing.T) {
	f := newFixture(t, config0())
	pv := NewPageView(f.sink, f.page, f.clock)
	pv.Start()
	defer pv.Stop()

	f.clock.Advance(time.Second)
	pv.TrackPage("pricing", map[string]any{"title": "Plans", "duration": 1})

	got := f.sink.all()
	require.Len(t, got, 2)
	assert.Equal(t, "pricing", got[1].Payload["name"])
	assert.Equal(t, "Plans", got[1].Payload["title"])
	assert.Equal(t, int64(1000), got[1].Payload["duration"], "duration is always computed")
}

func TestPageViewStopUnsubscribes(t *testing.T) {
	f := newFixture(t, config0())
	pv := NewPageView(f.sink, f.page, f.clock)
	pv.Start()
	pv.Stop()

	f.page.Navigate("https://shop.example.com/after")
	f.clock.Advance(time.Second)
	pv.TrackPage("", nil)
	assert.Len(t, f.sink.all(), 1)
}
