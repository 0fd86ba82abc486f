// Package collectors turns host observations into events.
package collectors

import "tapistry/shared/events"

// Sink receives produced events. The delivery pipeline implements it.
type Sink interface {
	Enqueue(ev events.Event)
}

type Collector interface {
	Start()
	Stop()
}

// Resetter is implemented by collectors that keep per-visitor state.
type Resetter interface {
	Reset()
}
