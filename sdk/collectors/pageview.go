package collectors

import (
	"maps"
	"sync"
	"time"

	"tapistry/sdk/clock"
	"tapistry/sdk/page"
	"tapistry/shared/device"
	"tapistry/shared/events"
	"tapistry/shared/urlx"
)

// RouteDebounce collapses bursts of history changes into one page view.
const RouteDebounce = 200 * time.Millisecond

type PageView struct {
	sink  Sink
	page  *page.State
	clock clock.Clock

	mu          sync.Mutex
	active      bool
	prevPath    string
	startedAt   time.Time
	lastURL     string
	debounce    clock.Timer
	unsubscribe func()
}

func NewPageView(sink Sink, p *page.State, c clock.Clock) *PageView {
	if c == nil {
		c = clock.Real()
	}
	return &PageView{sink: sink, page: p, clock: c}
}

// Start records the current page and follows route changes.
func (v *PageView) Start() {
	v.mu.Lock()
	if v.active {
		v.mu.Unlock()
		return
	}
	v.active = true
	v.lastURL = v.page.URL()
	v.mu.Unlock()

	v.TrackPage("", nil)
	unsub := v.page.OnRouteChange(v.onRouteChange)

	v.mu.Lock()
	v.unsubscribe = unsub
	v.mu.Unlock()
}

func (v *PageView) Stop() {
	v.mu.Lock()
	v.active = false
	unsub := v.unsubscribe
	v.unsubscribe = nil
	if v.debounce != nil {
		v.debounce.Stop()
		v.debounce = nil
	}
	v.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (v *PageView) onRouteChange(string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.debounce != nil {
		v.debounce.Stop()
	}
	v.debounce = v.clock.AfterFunc(RouteDebounce, v.settleRoute)
}

func (v *PageView) settleRoute() {
	url := v.page.URL()
	v.mu.Lock()
	if !v.active || url == v.lastURL {
		v.mu.Unlock()
		return
	}
	v.lastURL = url
	v.mu.Unlock()
	v.TrackPage("", nil)
}

// TrackPage emits a page view for the current location. props override
// the computed fields, except duration.
func (v *PageView) TrackPage(name string, props map[string]any) {
	info := v.page.Info()
	path := urlx.NormalizePath(info.URL)
	now := v.clock.Now()

	v.mu.Lock()
	if !v.active {
		v.mu.Unlock()
		return
	}
	prev, started := v.prevPath, v.startedAt
	v.prevPath, v.startedAt = path, now
	v.mu.Unlock()

	payload := map[string]any{
		"title":    info.Title,
		"referrer": info.Referrer,
		"utm":      urlx.ExtractUTM(info.URL),
		"device": map[string]any{
			"class":    string(device.ClassOf(info.Viewport.W)),
			"viewport": device.ViewportBucket(info.Viewport.W),
		},
	}
	if prev != "" {
		payload["prev_path"] = prev
	}
	if name != "" {
		payload["name"] = name
	}
	maps.Copy(payload, props)
	if !started.IsZero() {
		payload["duration"] = now.Sub(started).Milliseconds()
	}
	v.sink.Enqueue(events.Event{Kind: events.KindPageView, CapturedAt: now, Payload: payload})
}

// Reset forgets the previous page so the next view starts a fresh trail.
func (v *PageView) Reset() {
	v.mu.Lock()
	v.prevPath = ""
	v.startedAt = time.Time{}
	v.mu.Unlock()
}
