// Package page models the host page the SDK is embedded in: where it is,
// how big it is and what the visitor asked for. The host keeps it current.
package page

import (
	"sync"

	"tapistry/shared/events"
)

type Info struct {
	URL      string
	Title    string
	Referrer string
	Viewport events.Viewport
	Screen   *events.Screen
	TZ       string
	Lang     string
	// DoNotTrack mirrors the browser's DNT signal.
	DoNotTrack bool
}

type listener struct {
	id int
	fn func(url string)
}

type State struct {
	mu        sync.RWMutex
	info      Info
	nextID    int
	listeners []listener
}

func New(info Info) *State {
	return &State{info: info}
}

func (s *State) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.info
	if s.info.Screen != nil {
		sc := *s.info.Screen
		out.Screen = &sc
	}
	return out
}

func (s *State) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.URL
}

func (s *State) Viewport() events.Viewport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.Viewport
}

func (s *State) DoNotTrack() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.DoNotTrack
}

func (s *State) Client() events.ClientInfo {
	info := s.Info()
	return events.ClientInfo{TZ: info.TZ, Lang: info.Lang, Screen: info.Screen}
}

// Navigate records a history change and notifies route listeners. Listeners
// run on the caller's goroutine after the lock is released.
func (s *State) Navigate(url string) {
	s.mu.Lock()
	s.info.URL = url
	fns := make([]func(string), 0, len(s.listeners))
	for _, l := range s.listeners {
		fns = append(fns, l.fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(url)
	}
}

func (s *State) SetTitle(title string) {
	s.mu.Lock()
	s.info.Title = title
	s.mu.Unlock()
}

func (s *State) SetReferrer(ref string) {
	s.mu.Lock()
	s.info.Referrer = ref
	s.mu.Unlock()
}

func (s *State) Resize(vp events.Viewport) {
	s.mu.Lock()
	s.info.Viewport = vp
	s.mu.Unlock()
}

// OnRouteChange subscribes fn to navigations. The returned func
// unsubscribes.
func (s *State) OnRouteChange(fn func(url string)) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}
