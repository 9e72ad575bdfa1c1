package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Manager gates two independent concerns: new connections per client address
// and message/wave actions per connection id. Both are token buckets that
// refill over the configured window; a denied check must happen before any
// room or username state changes so a rejected action has no side effects.
type Manager struct {
	cfg Config

	connsMu sync.Mutex
	conns   map[string]*limiterEntry // client IP -> bucket

	actionsMu sync.Mutex
	actions   map[string]*limiterEntry // connID -> bucket

	quit chan struct{}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Config struct {
	// ConnectionLimit new connections per address per Window.
	ConnectionLimit int
	// ActionLimit messages/waves per connection per Window.
	ActionLimit int
	Window      time.Duration

	CleanupInterval time.Duration
	EntryTTL        time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectionLimit: 50,
		ActionLimit:     10,
		Window:          60 * time.Second,
		CleanupInterval: 5 * time.Minute,
		EntryTTL:        10 * time.Minute,
	}
}

func NewManager(cfg Config) *Manager {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 10 * time.Minute
	}

	m := &Manager{
		cfg:     cfg,
		conns:   make(map[string]*limiterEntry),
		actions: make(map[string]*limiterEntry),
		quit:    make(chan struct{}),
	}

	go m.cleanupLoop()

	return m
}

// AllowConnection returns true if a new connection from ip may proceed.
// Called during the handshake, before any room logic runs.
func (m *Manager) AllowConnection(ip string) bool {
	if ip == "" {
		ip = "__unknown_ip__"
	}

	m.connsMu.Lock()
	entry, ok := m.conns[ip]
	if !ok {
		entry = &limiterEntry{
			limiter:  newBucket(m.cfg.ConnectionLimit, m.cfg.Window),
			lastSeen: time.Now(),
		}
		m.conns[ip] = entry
	}
	entry.lastSeen = time.Now()
	lim := entry.limiter
	m.connsMu.Unlock()

	return lim.Allow()
}

// AllowAction returns true if the connection may send one more message or
// wave. Called for each inbound action.
func (m *Manager) AllowAction(connID string) bool {
	if connID == "" {
		connID = "__empty__"
	}

	m.actionsMu.Lock()
	entry, ok := m.actions[connID]
	if !ok {
		entry = &limiterEntry{
			limiter:  newBucket(m.cfg.ActionLimit, m.cfg.Window),
			lastSeen: time.Now(),
		}
		m.actions[connID] = entry
	}
	entry.lastSeen = time.Now()
	lim := entry.limiter
	m.actionsMu.Unlock()

	return lim.Allow()
}

// ForgetAction drops the connection's action bucket on disconnect. The
// address-keyed connection bucket is left to age out via the cleanup loop.
func (m *Manager) ForgetAction(connID string) {
	m.actionsMu.Lock()
	delete(m.actions, connID)
	m.actionsMu.Unlock()
}

func (m *Manager) Stop() {
	close(m.quit)
}

func newBucket(limit int, window time.Duration) *rate.Limiter {
	if limit <= 0 {
		limit = 1
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
}

func (m *Manager) cleanupLoop() {
	t := time.NewTicker(m.cfg.CleanupInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			m.cleanup()
		case <-m.quit:
			return
		}
	}
}

func (m *Manager) cleanup() {
	threshold := time.Now().Add(-m.cfg.EntryTTL)

	m.connsMu.Lock()
	for k, v := range m.conns {
		if v.lastSeen.Before(threshold) {
			delete(m.conns, k)
		}
	}
	m.connsMu.Unlock()

	m.actionsMu.Lock()
	for k, v := range m.actions {
		if v.lastSeen.Before(threshold) {
			delete(m.actions, k)
		}
	}
	m.actionsMu.Unlock()
}
