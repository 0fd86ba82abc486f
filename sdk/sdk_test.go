package sdk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapistry/sdk/clock/clocktest"
	"tapistry/sdk/collectors"
	"tapistry/sdk/identity"
	"tapistry/sdk/page"
	"tapistry/sdk/session"
	"tapistry/sdk/transport"
	"tapistry/shared/config"
	"tapistry/shared/events"
	"tapistry/shared/logx"
)

type captureDeliverer struct {
	mu      sync.Mutex
	batches []events.Batch
	unloads []events.Batch
}

func (d *captureDeliverer) Deliver(_ context.Context, b events.Batch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, b)
	return nil
}

func (d *captureDeliverer) DeliverUnload(b events.Batch) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unloads = append(d.unloads, b)
	return true
}

func (d *captureDeliverer) records() []events.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []events.Record
	for _, b := range d.batches {
		out = append(out, b.Events...)
	}
	return out
}

type harness struct {
	client *Client
	sink   *captureDeliverer
	clock  *clocktest.Fake
	store  *identity.MemoryStore
	page   *page.State
}

func sequence(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func newHarness(t *testing.T, info page.Info, opts ...Option) harness {
	t.Helper()
	clk := clocktest.New(time.Unix(1_700_000_000, 0))
	store := identity.NewMemoryStore(clk)
	d := &captureDeliverer{}
	if info.URL == "" {
		info.URL = "https://shop.example.com/"
	}
	if info.Viewport.W == 0 {
		info.Viewport = events.Viewport{W: 1280, H: 800}
	}
	p := page.New(info)
	base := []Option{
		WithClock(clk),
		WithStore(store),
		WithDeliverer(d),
		WithPipelineOptions(transport.WithSpawn(func(f func()) { f() })),
		WithSessionOptions(session.WithIDGenerator(sequence("id-"))),
	}
	c := New(p, config.SDKOverrides{ProjectKey: config.Ptr("pk_test")}, append(base, opts...)...)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return harness{client: c, sink: d, clock: clk, store: store, page: p}
}

func kinds(recs []events.Record) []events.Kind {
	out := make([]events.Kind, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Kind)
	}
	return out
}

func TestCommandsBeforeInitializeRunInOrder(t *testing.T) {
	h := newHarness(t, page.Info{})
	h.client.Track("first", nil)
	h.client.Track("second", map[string]any{"plan": "pro"})
	assert.False(t, h.client.Ready())
	assert.Zero(t, h.client.Stats().Admitted)

	require.NoError(t, h.client.Initialize(context.Background()))
	h.clock.Advance(time.Second)

	recs := h.sink.records()
	require.Equal(t, []events.Kind{events.KindPageView, events.KindCustom, events.KindCustom}, kinds(recs))
	assert.Equal(t, "first", recs[1].Payload["name"])
	assert.Equal(t, "second", recs[2].Payload["name"])
	assert.Equal(t, map[string]any{"plan": "pro"}, recs[2].Payload["properties"])
}

func TestFreshAnonymousIDIsPersistedAndStamped(t *testing.T) {
	h := newHarness(t, page.Info{})
	require.NoError(t, h.client.Initialize(context.Background()))
	h.client.Track("signup", nil)
	h.client.ObserveClick(collectors.ClickObservation{Target: collectors.ClickTarget{Key: "b"}})
	h.clock.Advance(time.Second)

	stored, ok, err := h.store.Get(context.Background(), identity.KeyAnonymousID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, h.client.AnonymousID(), stored)

	recs := h.sink.records()
	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.Equal(t, stored, r.AnonymousID)
		assert.Equal(t, h.client.SessionID(), r.SessionID)
		assert.Nil(t, r.UserID)
	}
}

func TestDoNotTrackDisablesClient(t *testing.T) {
	h := newHarness(t, page.Info{DoNotTrack: true})
	h.client.Track("queued", nil)

	err := h.client.Initialize(context.Background())
	require.True(t, errors.Is(err, ErrDoNotTrack))
	h.client.Track("after", nil)
	h.clock.Advance(time.Minute)

	assert.False(t, h.client.Ready())
	assert.Empty(t, h.sink.records())
}

func TestDoNotTrackIgnoredWhenNotRespected(t *testing.T) {
	h := newHarness(t, page.Info{DoNotTrack: true})
	h.client.Config(config.SDKOverrides{RespectDNT: config.Ptr(false)})
	// Config is queued too, so DNT is still respected at Initialize.
	require.ErrorIs(t, h.client.Initialize(context.Background()), ErrDoNotTrack)

	h2 := newHarness(t, page.Info{DoNotTrack: true})
	h2.client.cfg.Update(config.SDKOverrides{RespectDNT: config.Ptr(false)})
	require.NoError(t, h2.client.Initialize(context.Background()))
	assert.True(t, h2.client.Ready())
}

func TestIdentifyStampsUserAndPersists(t *testing.T) {
	h := newHarness(t, page.Info{})
	require.NoError(t, h.client.Initialize(context.Background()))
	h.client.Identify(context.Background(), "user-7", map[string]any{"plan": "pro"})
	h.client.Track("after", nil)
	h.clock.Advance(time.Second)

	recs := h.sink.records()
	require.Equal(t, []events.Kind{events.KindPageView, events.KindIdentify, events.KindCustom}, kinds(recs))
	assert.Nil(t, recs[0].UserID)
	require.NotNil(t, recs[1].UserID)
	assert.Equal(t, "user-7", *recs[1].UserID)
	assert.Equal(t, map[string]any{"plan": "pro"}, recs[1].Payload["traits"])

	uid, ok, err := h.store.Get(context.Background(), identity.KeyUserID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "user-7", uid)
}

func TestResetStartsNewVisitor(t *testing.T) {
	h := newHarness(t, page.Info{})
	require.NoError(t, h.client.Initialize(context.Background()))
	h.client.Identify(context.Background(), "user-7", nil)
	before := h.client.AnonymousID()

	h.client.Reset(context.Background())

	assert.NotEqual(t, before, h.client.AnonymousID())
	_, ok, _ := h.store.Get(context.Background(), identity.KeyUserID)
	assert.False(t, ok)
}

func TestWithdrawingConsentStopsCollection(t *testing.T) {
	h := newHarness(t, page.Info{})
	require.NoError(t, h.client.Initialize(context.Background()))
	h.clock.Advance(time.Second)
	require.Len(t, h.sink.records(), 1)

	h.client.SetConsent(ConsentUpdate{Analytics: config.Ptr(false)})
	h.client.Track("hidden", nil)
	h.client.Page("pricing", nil)
	h.clock.Advance(time.Second)
	assert.Len(t, h.sink.records(), 1)
	assert.False(t, h.client.Stats().Active)
	assert.False(t, h.client.Consent().Analytics)
	assert.True(t, h.client.Consent().Replay)

	h.client.SetConsent(ConsentUpdate{Analytics: config.Ptr(true)})
	h.client.Track("visible", nil)
	h.clock.Advance(time.Second)
	recs := h.sink.records()
	assert.Equal(t, "visible", recs[len(recs)-1].Payload["name"])
}

func TestPageHideUsesUnloadPath(t *testing.T) {
	h := newHarness(t, page.Info{Screen: &events.Screen{W: 1920, H: 1080}})
	require.NoError(t, h.client.Initialize(context.Background()))
	h.client.Track("leaving", nil)

	h.client.HandlePageHide()

	require.Len(t, h.sink.unloads, 1)
	assert.Len(t, h.sink.unloads[0].Events, 2)
	assert.Nil(t, h.sink.unloads[0].Client.Screen)
	assert.Zero(t, h.client.Stats().Queued)
}

func TestHandleVisibilityHiddenFlushes(t *testing.T) {
	h := newHarness(t, page.Info{})
	require.NoError(t, h.client.Initialize(context.Background()))
	h.client.HandleVisibility(true)
	require.Len(t, h.sink.unloads, 1)

	h.client.HandleVisibility(false)
	assert.Len(t, h.sink.unloads, 1)
}

func TestExecute(t *testing.T) {
	h := newHarness(t, page.Info{})
	require.NoError(t, h.client.Initialize(context.Background()))
	ctx := context.Background()

	require.NoError(t, h.client.Execute(ctx, "track", "cta", map[string]any{"pos": 1}))
	require.NoError(t, h.client.Execute(ctx, "page"))
	require.ErrorIs(t, h.client.Execute(ctx, "track"), ErrBadArguments)
	require.ErrorIs(t, h.client.Execute(ctx, "identify", 42), ErrBadArguments)
	require.ErrorIs(t, h.client.Execute(ctx, "explode"), ErrUnknownCommand)

	h.clock.Advance(time.Second)
	recs := h.sink.records()
	require.Equal(t, []events.Kind{events.KindPageView, events.KindCustom, events.KindPageView}, kinds(recs))
	assert.Equal(t, "cta", recs[1].Payload["name"])
}

func TestDebugSwitchesLogLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logx.NewWithWriter(&buf, "sdk", "test", "", "info")
	h := newHarness(t, page.Info{}, WithLogger(log))
	require.NoError(t, h.client.Initialize(context.Background()))

	assert.False(t, log.Enabled(context.Background(), slog.LevelDebug))
	require.NoError(t, h.client.Execute(context.Background(), "debug", true))
	assert.True(t, log.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.client.cfg.Snapshot().Debug)
}
