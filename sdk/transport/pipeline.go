// Package transport buffers stamped events and delivers them in batches,
// retrying failed batches with exponential backoff.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"tapistry/sdk/clock"
	"tapistry/shared/config"
	"tapistry/shared/events"
	"tapistry/shared/logx"
	"tapistry/shared/metricsx"
	"tapistry/shared/urlx"
)

const (
	SDKName    = "tapistry-go"
	SDKVersion = "0.1.0"
)

// Session supplies the identifiers stamped on every record.
type Session interface {
	SessionID() string
	AnonymousID() string
	UserID() (string, bool)
}

// Page supplies location and client details.
type Page interface {
	URL() string
	Viewport() events.Viewport
	Client() events.ClientInfo
}

type Option func(*Pipeline)

func WithClock(c clock.Clock) Option { return func(p *Pipeline) { p.clock = c } }

func WithLogger(l logx.Logger) Option { return func(p *Pipeline) { p.log = l } }

// WithSpawn sets how delivery attempts are run off the caller's goroutine.
// Tests pass a synchronous runner.
func WithSpawn(fn func(func())) Option { return func(p *Pipeline) { p.spawn = fn } }

func WithIDGenerator(fn func() string) Option { return func(p *Pipeline) { p.newID = fn } }

// WithRand sets the jitter source for retry delays.
func WithRand(fn func() float64) Option { return func(p *Pipeline) { p.rand = fn } }

type Stats struct {
	Queued     int
	Admitted   int
	RetryCount int
	Abandoned  int
	Sending    bool
	Active     bool
	BackingOff bool
}

type Pipeline struct {
	cfg       *config.Store
	session   Session
	page      Page
	deliverer Deliverer
	clock     clock.Clock
	log       logx.Logger
	spawn     func(func())
	newID     func() string
	rand      func() float64

	mu         sync.Mutex
	active     bool
	sending    bool
	backingOff bool
	queue      []events.Record
	admitted   int
	retryCount int
	abandoned  int
	batchTimer clock.Timer
	retryTimer clock.Timer
}

func NewPipeline(cfg *config.Store, session Session, page Page, d Deliverer, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		session:   session,
		page:      page,
		deliverer: d,
		clock:     clock.Real(),
		log:       logx.Nop(),
		spawn:     func(f func()) { go f() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start activates the pipeline. Events queued while stopped are kept and
// picked up by the next deferred flush.
func (p *Pipeline) Start() {
	cfg := p.cfg.Snapshot()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return
	}
	p.active = true
	if len(p.queue) > 0 {
		p.scheduleFlushLocked(cfg.Transport.BatchTimeout)
	}
}

// Stop deactivates the pipeline and cancels pending timers. An attempt in
// flight still completes and its result is applied.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
	p.backingOff = false
	stopTimer(&p.batchTimer)
	stopTimer(&p.retryTimer)
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// Enqueue stamps ev and adds it to the queue. It never panics and never
// blocks on the network.
func (p *Pipeline) Enqueue(ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error(context.Background(), "enqueue_panic", "event dropped",
				slog.String("error_code", "ENQUEUE_PANIC"), slog.Any("error", r))
			metricsx.IncDropped("panic", 1)
		}
	}()

	cfg := p.cfg.Snapshot()
	rec := p.stamp(ev, cfg)

	depth, full, err := p.admit(rec, cfg)
	switch {
	case errors.Is(err, errSessionCap):
		metricsx.IncDropped("session_cap", 1)
		return
	case err != nil:
		return
	}

	metricsx.IncEnqueued(string(ev.Kind))
	metricsx.SetQueueDepth(depth)
	if full {
		p.Flush()
	}
}

var (
	errInactive   = errors.New("pipeline inactive")
	errSessionCap = errors.New("session event cap reached")
)

// admit appends rec under the lock and arms the deferred flush unless the
// batch is already full.
func (p *Pipeline) admit(rec events.Record, cfg config.SDK) (depth int, full bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return 0, false, errInactive
	}
	if p.admitted >= cfg.MaxEventsPerSession {
		return 0, false, errSessionCap
	}
	p.queue = append(p.queue, rec)
	p.admitted++
	depth = len(p.queue)
	full = depth >= cfg.Transport.BatchSize
	if !full {
		p.scheduleFlushLocked(cfg.Transport.BatchTimeout)
	}
	return depth, full, nil
}

func (p *Pipeline) stamp(ev events.Event, cfg config.SDK) events.Record {
	captured := ev.CapturedAt
	if captured.IsZero() {
		captured = p.clock.Now()
	}
	href := p.page.URL()
	env := events.Envelope{
		ID:          p.newID(),
		TS:          captured.UnixMilli(),
		SessionID:   p.session.SessionID(),
		AnonymousID: p.session.AnonymousID(),
		URL:         urlx.SanitizeURL(href, cfg.QueryAllowlist),
		Path:        urlx.NormalizePath(href),
		Viewport:    p.page.Viewport(),
	}
	if uid, ok := p.session.UserID(); ok {
		env.UserID = &uid
	}
	return events.NewRecord(env, ev)
}

// scheduleFlushLocked (re)arms the single deferred flush.
func (p *Pipeline) scheduleFlushLocked(d time.Duration) {
	stopTimer(&p.batchTimer)
	p.batchTimer = p.clock.AfterFunc(d, p.Flush)
}

// Flush cuts the whole queue and delivers it unless the pipeline is
// inactive, already sending, waiting out a backoff, or empty.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	if !p.active || p.sending || p.backingOff || len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	p.sending = true
	cut := p.queue
	p.queue = nil
	stopTimer(&p.batchTimer)
	p.mu.Unlock()

	metricsx.SetQueueDepth(0)
	batch := p.batch(cut)
	p.spawn(func() { p.deliver(batch) })
}

func (p *Pipeline) batch(recs []events.Record) events.Batch {
	return events.Batch{
		SDK:    events.SDKInfo{Name: SDKName, Version: SDKVersion},
		Client: p.page.Client(),
		Events: recs,
	}
}

func (p *Pipeline) deliver(batch events.Batch) {
	cfg := p.cfg.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Transport.RequestTimeout)
	start := p.clock.Now()
	err := p.deliverer.Deliver(ctx, batch)
	cancel()
	metricsx.ObserveDelivery(p.clock.Now().Sub(start))
	p.complete(batch.Events, err, cfg)
}

func (p *Pipeline) complete(recs []events.Record, err error, cfg config.SDK) {
	ctx := context.Background()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sending = false

	if err == nil {
		p.retryCount = 0
		p.log.Debug(ctx, "batch_delivered", "batch delivered", slog.Int("events", len(recs)))
	} else if p.retryCount < cfg.Transport.MaxRetries {
		p.queue = append(slices.Clone(recs), p.queue...)
		p.retryCount++
		delay := Backoff{Base: cfg.Transport.BaseBackoff, Max: cfg.Transport.MaxBackoff, Rand: p.rand}.Delay(p.retryCount)
		if p.active {
			p.backingOff = true
			stopTimer(&p.retryTimer)
			p.retryTimer = p.clock.AfterFunc(delay, p.retry)
		}
		metricsx.IncRetry()
		p.log.Debug(ctx, "batch_retry", "delivery failed, retrying",
			slog.Int("events", len(recs)), slog.Int("attempt", p.retryCount),
			slog.Int64("delay_ms", delay.Milliseconds()), slog.String("error", err.Error()))
	} else {
		p.abandoned += len(recs)
		metricsx.IncDropped("retries_exhausted", len(recs))
		p.log.Warn(ctx, "batch_abandoned", "delivery failed after retries, batch dropped",
			slog.Int("events", len(recs)), slog.String("error_code", "DELIVERY_FAILED"),
			slog.String("error", err.Error()))
	}

	metricsx.SetQueueDepth(len(p.queue))
	if len(p.queue) > 0 && p.active && !p.backingOff {
		p.scheduleFlushLocked(cfg.Transport.BatchTimeout)
	}
}

func (p *Pipeline) retry() {
	p.mu.Lock()
	p.backingOff = false
	p.retryTimer = nil
	p.mu.Unlock()
	p.Flush()
}

// FlushOnHide hands whatever is queued to the beacon once, outside the
// retry path. If the beacon refuses, the events go back to the front.
func (p *Pipeline) FlushOnHide() {
	cfg := p.cfg.Snapshot()
	p.mu.Lock()
	if !p.active || len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	cut := p.queue
	p.queue = nil
	stopTimer(&p.batchTimer)
	p.mu.Unlock()

	b := p.batch(cut)
	b.Client.Screen = nil
	if p.deliverer.DeliverUnload(b) {
		metricsx.SetQueueDepth(0)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(cut, p.queue...)
	metricsx.SetQueueDepth(len(p.queue))
	if p.active && !p.sending && !p.backingOff {
		p.scheduleFlushLocked(cfg.Transport.BatchTimeout)
	}
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Queued:     len(p.queue),
		Admitted:   p.admitted,
		RetryCount: p.retryCount,
		Abandoned:  p.abandoned,
		Sending:    p.sending,
		Active:     p.active,
		BackingOff: p.backingOff,
	}
}
