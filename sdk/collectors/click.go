package collectors

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"tapistry/sdk/clock"
	"tapistry/sdk/page"
	"tapistry/shared/config"
	"tapistry/shared/events"
)

const (
	clickDedupeWindow = 100 * time.Millisecond
	maxElementText    = 100
)

// ClickTarget is the element a click landed on.
type ClickTarget struct {
	// Key identifies the element for de-duplication.
	Key  string
	Path []Node
	Text string
	// Ignored is set for elements under data-tapistry-ignore or inside a
	// password input.
	Ignored bool
}

type ClickObservation struct {
	Target  ClickTarget
	ClientX float64
	ClientY float64
	Button  int
}

type Click struct {
	sink  Sink
	page  *page.State
	cfg   *config.Store
	clock clock.Clock

	mu        sync.Mutex
	active    bool
	lastAt    time.Time
	lastKey   string
	seenFirst bool
}

func NewClick(sink Sink, p *page.State, cfg *config.Store, c clock.Clock) *Click {
	if c == nil {
		c = clock.Real()
	}
	return &Click{sink: sink, page: p, cfg: cfg, clock: c}
}

func (c *Click) Start() {
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
}

func (c *Click) Stop() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}

// Observe reports a click, pointerdown or touchend. Repeats on the same
// element within 100ms are one interaction.
func (c *Click) Observe(o ClickObservation) {
	now := c.clock.Now()
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	dup := c.seenFirst && now.Sub(c.lastAt) < clickDedupeWindow && o.Target.Key == c.lastKey
	if dup {
		c.mu.Unlock()
		return
	}
	c.lastAt, c.lastKey, c.seenFirst = now, o.Target.Key, true
	c.mu.Unlock()

	if o.Target.Ignored {
		return
	}

	cfg := c.cfg.Snapshot()
	vp := c.page.Viewport()
	selector := BuildSelector(o.Target.Path)
	payload := map[string]any{
		"x":             normalize(o.ClientX, vp.W),
		"y":             normalize(o.ClientY, vp.H),
		"selector_hash": HashSelector(selector),
		"button":        o.Button,
	}
	if cfg.Debug {
		payload["selector"] = selector
	}
	if !cfg.MaskText {
		if text := elementText(o.Target.Text); text != "" {
			payload["element_text"] = text
		}
	}
	c.sink.Enqueue(events.Event{Kind: events.KindClick, CapturedAt: now, Payload: payload})
}

func normalize(v float64, extent int) float64 {
	if extent <= 0 {
		return 0
	}
	return min(1, max(0, v/float64(extent)))
}

func elementText(raw string) string {
	text := strings.TrimSpace(raw)
	if utf8.RuneCountInString(text) <= maxElementText {
		return text
	}
	return string([]rune(text)[:maxElementText])
}
