// Package sdk is the embeddable telemetry client. The host owns a
// page.State and forwards interaction to the Client; the Client stamps,
// batches and delivers events to the collector.
package sdk

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"tapistry/sdk/clock"
	"tapistry/sdk/collectors"
	"tapistry/sdk/identity"
	"tapistry/sdk/page"
	"tapistry/sdk/session"
	"tapistry/sdk/transport"
	"tapistry/shared/config"
	"tapistry/shared/logx"
)

// Version is reported in every batch.
const Version = transport.SDKVersion

// ErrDoNotTrack is returned by Initialize when the visitor opted out and
// the configuration respects it. The client stays inert.
var ErrDoNotTrack = errors.New("do not track is enabled")

type Consent struct {
	Analytics bool
	Replay    bool
}

type Option func(*Client)

func WithClock(c clock.Clock) Option { return func(cl *Client) { cl.clock = c } }

func WithLogger(l logx.Logger) Option { return func(cl *Client) { cl.log = l } }

// WithStore sets where identifiers persist. The default keeps them in
// memory only.
func WithStore(s identity.Store) Option { return func(cl *Client) { cl.store = s } }

// WithDeliverer replaces the beacon/HTTP delivery strategy.
func WithDeliverer(d transport.Deliverer) Option { return func(cl *Client) { cl.deliverer = d } }

func WithPipelineOptions(opts ...transport.Option) Option {
	return func(cl *Client) { cl.pipelineOpts = append(cl.pipelineOpts, opts...) }
}

func WithSessionOptions(opts ...session.Option) Option {
	return func(cl *Client) { cl.sessionOpts = append(cl.sessionOpts, opts...) }
}

type Client struct {
	cfg          *config.Store
	page         *page.State
	clock        clock.Clock
	log          logx.Logger
	store        identity.Store
	deliverer    transport.Deliverer
	beacon       *transport.HTTPBeacon
	pipelineOpts []transport.Option
	sessionOpts  []session.Option

	session    *session.Manager
	pipeline   *transport.Pipeline
	pageViews  *collectors.PageView
	clicks     *collectors.Click
	scrolls    *collectors.Scroll
	collectors []collectors.Collector

	mu       sync.Mutex
	ready    bool
	disabled bool
	consent  Consent
	pending  []command
}

func New(p *page.State, overrides config.SDKOverrides, opts ...Option) *Client {
	c := &Client{
		cfg:     config.NewStore(overrides),
		page:    p,
		clock:   clock.Real(),
		log:     logx.Nop(),
		consent: Consent{Analytics: true, Replay: true},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = identity.NewMemoryStore(c.clock)
	}
	snap := c.cfg.Snapshot()
	if snap.Debug {
		c.log.SetLevel("debug")
	}
	if c.deliverer == nil {
		c.beacon = transport.NewHTTPBeacon(snap.Transport.RequestTimeout, transport.DefaultBeaconQueue, c.log)
		c.deliverer = transport.NewStrategy(c.cfg, c.beacon, transport.NewHTTPClient(snap.Transport.RequestTimeout), c.clock)
	}

	c.session = session.New(c.store, c.cfg, append([]session.Option{
		session.WithClock(c.clock),
		session.WithLogger(c.log.With(slog.String("component", "session"))),
	}, c.sessionOpts...)...)
	c.pipeline = transport.NewPipeline(c.cfg, c.session, c.page, c.deliverer, append([]transport.Option{
		transport.WithClock(c.clock),
		transport.WithLogger(c.log.With(slog.String("component", "transport"))),
	}, c.pipelineOpts...)...)

	c.pageViews = collectors.NewPageView(c.pipeline, c.page, c.clock)
	c.clicks = collectors.NewClick(c.pipeline, c.page, c.cfg, c.clock)
	c.scrolls = collectors.NewScroll(c.pipeline, c.cfg, c.clock)
	c.collectors = []collectors.Collector{c.pageViews, c.clicks, c.scrolls}
	return c
}

// Initialize starts the session, the collectors and the pipeline, then
// runs the commands issued before it in order. Commands issued while the
// backlog drains run after it.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.ready || c.disabled {
		c.mu.Unlock()
		return nil
	}
	if c.cfg.Snapshot().RespectDNT && c.page.DoNotTrack() {
		c.disabled = true
		c.pending = nil
		c.mu.Unlock()
		c.log.Info(ctx, "sdk_disabled", "do not track enabled, not tracking")
		return ErrDoNotTrack
	}
	c.mu.Unlock()

	c.session.Initialize(ctx)
	c.pipeline.Start()
	c.startCollectors()

	for {
		c.mu.Lock()
		backlog := c.pending
		c.pending = nil
		if len(backlog) == 0 {
			c.ready = true
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()
		for _, cmd := range backlog {
			cmd.run()
		}
	}
	c.log.Info(ctx, "sdk_initialized", "sdk initialized",
		slog.String("session_id", c.session.SessionID()))
	return nil
}

func (c *Client) startCollectors() {
	for _, col := range c.collectors {
		col.Start()
	}
}

func (c *Client) stopCollectors() {
	for _, col := range c.collectors {
		col.Stop()
	}
}

// Ready reports whether Initialize completed.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *Client) Consent() Consent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consent
}

func (c *Client) analyticsAllowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consent.Analytics
}

func (c *Client) SessionID() string   { return c.session.SessionID() }
func (c *Client) AnonymousID() string { return c.session.AnonymousID() }

func (c *Client) Stats() transport.Stats { return c.pipeline.Stats() }

// RecordActivity forwards a host interaction signal to the session.
func (c *Client) RecordActivity(sig session.Signal) {
	if c.Ready() {
		c.session.RecordActivity(sig)
	}
}

// ObserveClick reports a click. It also counts as pointer activity.
func (c *Client) ObserveClick(o collectors.ClickObservation) {
	if !c.Ready() {
		return
	}
	c.session.RecordActivity(session.PointerDown)
	c.clicks.Observe(o)
}

// ObserveScroll reports a scroll position. It also counts as activity.
func (c *Client) ObserveScroll(o collectors.ScrollObservation) {
	if !c.Ready() {
		return
	}
	c.session.RecordActivity(session.Scroll)
	c.scrolls.Observe(o)
}

// HandleVisibility is called when the page becomes hidden or visible.
// Hiding hands the queue to the beacon; showing again may rotate an idle
// session.
func (c *Client) HandleVisibility(hidden bool) {
	if !c.Ready() {
		return
	}
	if hidden {
		c.pipeline.FlushOnHide()
		return
	}
	c.session.RecordActivity(session.Visible)
}

// HandlePageHide is called when the page is being unloaded.
func (c *Client) HandlePageHide() {
	if c.Ready() {
		c.pipeline.FlushOnHide()
	}
}

// Close makes a last unload attempt and releases timers and the beacon
// worker. The identity store is owned by the caller.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	wasReady := c.ready
	c.ready = false
	c.pending = nil
	c.mu.Unlock()

	if wasReady {
		c.stopCollectors()
		c.pipeline.FlushOnHide()
	}
	c.pipeline.Stop()
	c.session.Close()
	if c.beacon != nil {
		return c.beacon.Close(ctx)
	}
	return nil
}
