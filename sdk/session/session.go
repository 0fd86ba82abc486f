// Package session owns the visitor identifiers: a durable anonymous id, a
// session id that rotates after inactivity, and an optional user id.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tapistry/sdk/clock"
	"tapistry/sdk/identity"
	"tapistry/shared/config"
	"tapistry/shared/logx"
	"tapistry/shared/metricsx"
)

// Signal is a host interaction that counts as activity.
type Signal int

const (
	PointerDown Signal = iota
	KeyDown
	Scroll
	TouchStart
	// Visible is sent when the page becomes visible again.
	Visible
)

func (s Signal) String() string {
	switch s {
	case PointerDown:
		return "pointerdown"
	case KeyDown:
		return "keydown"
	case Scroll:
		return "scroll"
	case TouchStart:
		return "touchstart"
	case Visible:
		return "visible"
	}
	return "unknown"
}

const DefaultCheckInterval = time.Minute

type Option func(*Manager)

func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

func WithLogger(l logx.Logger) Option { return func(m *Manager) { m.log = l } }

func WithIDGenerator(fn func() string) Option { return func(m *Manager) { m.newID = fn } }

func WithCheckInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

type Manager struct {
	store    identity.Store
	cfg      *config.Store
	clock    clock.Clock
	log      logx.Logger
	newID    func() string
	interval time.Duration

	mu           sync.Mutex
	initialized  bool
	anonymousID  string
	sessionID    string
	userID       string
	hasUser      bool
	lastActivity time.Time
	stopCheck    func()
}

func New(store identity.Store, cfg *config.Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		cfg:      cfg,
		clock:    clock.Real(),
		log:      logx.Nop(),
		newID:    uuid.NewString,
		interval: DefaultCheckInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = identity.Nop{}
	}
	return m
}

// Initialize loads or mints the anonymous id, restores a persisted user id,
// starts a fresh session and begins the periodic idle check. Later calls do
// nothing.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = true
	m.mu.Unlock()

	aid, ok := m.load(ctx, identity.KeyAnonymousID)
	if !ok {
		aid = m.newID()
		m.persist(ctx, identity.KeyAnonymousID, aid)
	}
	uid, hasUser := m.load(ctx, identity.KeyUserID)

	m.mu.Lock()
	m.anonymousID = aid
	if hasUser {
		m.userID, m.hasUser = uid, true
	}
	m.sessionID = m.newID()
	m.lastActivity = m.clock.Now()
	m.mu.Unlock()

	stop := clock.Ticker(m.clock, m.interval, m.checkIdle)
	m.mu.Lock()
	m.stopCheck = stop
	m.mu.Unlock()
}

func (m *Manager) load(ctx context.Context, key string) (string, bool) {
	v, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.log.Debug(ctx, "identity_read_failed", "identity store read failed",
			slog.String("key", key), slog.String("error", err.Error()))
		return "", false
	}
	return v, ok && v != ""
}

func (m *Manager) persist(ctx context.Context, key, value string) {
	if err := m.store.Set(ctx, key, value, identity.TTL); err != nil {
		m.log.Debug(ctx, "identity_write_failed", "identity store write failed",
			slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (m *Manager) forget(ctx context.Context, key string) {
	if err := m.store.Remove(ctx, key); err != nil {
		m.log.Debug(ctx, "identity_remove_failed", "identity store remove failed",
			slog.String("key", key), slog.String("error", err.Error()))
	}
}

// RecordActivity marks the visitor as active. A Visible signal first runs
// the idle check, since the page may have been hidden past the timeout.
func (m *Manager) RecordActivity(sig Signal) {
	if sig == Visible {
		m.checkIdle()
	}
	m.mu.Lock()
	m.lastActivity = m.clock.Now()
	m.mu.Unlock()
}

// checkIdle rotates the session id once the visitor has been inactive for
// strictly longer than the session timeout.
func (m *Manager) checkIdle() {
	timeout := m.cfg.Snapshot().SessionTimeout
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	if now.Sub(m.lastActivity) <= timeout {
		m.mu.Unlock()
		return
	}
	prev := m.sessionID
	m.sessionID = m.newID()
	m.lastActivity = now
	next := m.sessionID
	m.mu.Unlock()

	metricsx.IncSessionRotation("idle")
	m.log.Debug(context.Background(), "session_rotated", "session rotated after inactivity",
		slog.String("previous_session_id", prev), slog.String("session_id", next))
}

// Identify attaches userID to the visitor without starting a new session.
func (m *Manager) Identify(ctx context.Context, userID string) {
	m.mu.Lock()
	m.userID, m.hasUser = userID, true
	m.mu.Unlock()
	m.persist(ctx, identity.KeyUserID, userID)
}

// Reset forgets the user and starts over with new anonymous and session ids.
func (m *Manager) Reset(ctx context.Context) {
	m.mu.Lock()
	m.userID, m.hasUser = "", false
	m.sessionID = m.newID()
	m.anonymousID = m.newID()
	m.lastActivity = m.clock.Now()
	aid := m.anonymousID
	m.mu.Unlock()

	metricsx.IncSessionRotation("reset")
	m.forget(ctx, identity.KeyUserID)
	m.persist(ctx, identity.KeyAnonymousID, aid)
}

func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

func (m *Manager) AnonymousID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anonymousID
}

func (m *Manager) UserID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID, m.hasUser
}

func (m *Manager) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// Close stops the idle check.
func (m *Manager) Close() {
	m.mu.Lock()
	stop := m.stopCheck
	m.stopCheck = nil
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
}
