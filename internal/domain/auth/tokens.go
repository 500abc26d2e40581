package auth

import (
	"sync"
	"time"

	"merchant-verify-client/internal/domain/eventbus"
)

// TokenStore is the injected owner of the current token pair.
type TokenStore interface {
	Get() (Token, bool)
	Set(access, refresh string, ttl time.Duration)
	Replace(expectedRefresh, access string, ttl time.Duration) bool
	Clear(reason string)
	ClearIf(expectedRefresh, reason string) bool
	IsAuthenticated() bool
	AccessToken() string
	RefreshToken() string
	BearerToken() (string, bool)
	Subscribe(topic string, fn eventbus.Handler) *eventbus.Subscription
	NotifyRefreshed()
}

// Tokens is the mutex-guarded TokenStore. Events go out after the lock is released.
type Tokens struct {
	mu      sync.RWMutex
	current *Token
	bus     *eventbus.Bus
	now     func() time.Time
}

func NewTokens(bus *eventbus.Bus) *Tokens {
	return &Tokens{bus: bus, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	t.now = now
	return t
}

func (t *Tokens) Get() (Token, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return Token{}, false
	}
	return *t.current, true
}

// Set replaces the current pair with ExpiresAt = now + ttl.
func (t *Tokens) Set(access, refresh string, ttl time.Duration) {
	t.mu.Lock()
	t.current = &Token{Access: access, Refresh: refresh, ExpiresAt: t.now().Add(ttl)}
	t.mu.Unlock()
}

// Replace swaps in a new access token only while the pair still carries
// expectedRefresh. It reports false when a logout or re-login got there first.
func (t *Tokens) Replace(expectedRefresh, access string, ttl time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil || t.current.Refresh != expectedRefresh {
		return false
	}
	t.current = &Token{Access: access, Refresh: expectedRefresh, ExpiresAt: t.now().Add(ttl)}
	return true
}

// ClearIf clears only the pair holding expectedRefresh. Logout subscribers
// hear about it only when something was actually dropped.
func (t *Tokens) ClearIf(expectedRefresh, reason string) bool {
	t.mu.Lock()
	if t.current == nil || t.current.Refresh != expectedRefresh {
		t.mu.Unlock()
		return false
	}
	t.current = nil
	t.mu.Unlock()
	t.bus.Publish(eventbus.TopicLogout, eventbus.LogoutPayload{Reason: reason})
	return true
}

// Clear drops the pair and notifies logout subscribers.
func (t *Tokens) Clear(reason string) {
	t.mu.Lock()
	t.current = nil
	t.mu.Unlock()
	t.bus.Publish(eventbus.TopicLogout, eventbus.LogoutPayload{Reason: reason})
}

func (t *Tokens) IsAuthenticated() bool {
	_, ok := t.BearerToken()
	return ok
}

func (t *Tokens) AccessToken() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return ""
	}
	return t.current.Access
}

func (t *Tokens) RefreshToken() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return ""
	}
	return t.current.Refresh
}

// BearerToken returns the access token only while it is unexpired.
func (t *Tokens) BearerToken() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil || t.current.IsExpired(t.now()) {
		return "", false
	}
	return t.current.Access, true
}

func (t *Tokens) Subscribe(topic string, fn eventbus.Handler) *eventbus.Subscription {
	return t.bus.Subscribe(topic, fn)
}

// NotifyRefreshed tells refresh subscribers the access token changed.
func (t *Tokens) NotifyRefreshed() {
	access := t.AccessToken()
	t.bus.Publish(eventbus.TopicTokenRefreshed, access)
}
