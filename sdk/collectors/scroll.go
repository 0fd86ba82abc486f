package collectors

import (
	"math"
	"slices"
	"sync"
	"time"

	"tapistry/sdk/clock"
	"tapistry/shared/config"
	"tapistry/shared/events"
)

const scrollThrottle = 100 * time.Millisecond

// ScrollObservation is the scroll position the host measured.
type ScrollObservation struct {
	ScrollTop      float64
	PageHeight     float64
	ViewportHeight float64
}

type Scroll struct {
	sink  Sink
	cfg   *config.Store
	clock clock.Clock

	mu       sync.Mutex
	active   bool
	maxDepth int
	recorded map[int]bool
	lastEmit time.Time
}

func NewScroll(sink Sink, cfg *config.Store, c clock.Clock) *Scroll {
	if c == nil {
		c = clock.Real()
	}
	return &Scroll{sink: sink, cfg: cfg, clock: c, recorded: map[int]bool{}}
}

func (s *Scroll) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.resetLocked()
}

func (s *Scroll) Stop() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// Reset clears depth and milestones, for a new page or visitor.
func (s *Scroll) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
}

func (s *Scroll) resetLocked() {
	s.maxDepth = 0
	clear(s.recorded)
}

// Observe records newly crossed milestones. At most one event is emitted
// per observation, for the deepest new milestone, and none within 100ms of
// the previous one; throttled milestones still show up in the next event's
// list.
func (s *Scroll) Observe(o ScrollObservation) {
	milestones := s.cfg.Snapshot().ScrollMilestones
	now := s.clock.Now()

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	deepest := -1
	scrollable := o.PageHeight - o.ViewportHeight
	if scrollable <= 0 {
		if !s.recorded[100] {
			s.recorded[100] = true
			deepest = 100
		}
	} else {
		depth := int(math.Min(100, math.Round(o.ScrollTop/scrollable*100)))
		if depth > s.maxDepth {
			s.maxDepth = depth
			for _, m := range milestones {
				if depth >= m && !s.recorded[m] {
					s.recorded[m] = true
					deepest = max(deepest, m)
				}
			}
		}
	}
	if deepest < 0 || now.Sub(s.lastEmit) < scrollThrottle {
		s.mu.Unlock()
		return
	}
	s.lastEmit = now
	reached := make([]int, 0, len(s.recorded))
	for m := range s.recorded {
		reached = append(reached, m)
	}
	s.mu.Unlock()

	slices.Sort(reached)
	s.sink.Enqueue(events.Event{
		Kind:       events.KindScroll,
		CapturedAt: now,
		Payload:    map[string]any{"max_depth_pct": deepest, "milestones": reached},
	})
}
