package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-verify-client/internal/domain/auth/store"
	"merchant-verify-client/internal/domain/eventbus"
	"merchant-verify-client/internal/platform/config"
	"merchant-verify-client/internal/platform/errors"
	"merchant-verify-client/internal/transport/rest"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type fakeServer struct {
	t            *testing.T
	loginStatus  int
	refreshFails bool
	refreshCalls atomic.Int32
	lastAuth     atomic.Value
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login/", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]string
		require.NoError(f.t, sonic.Unmarshal(raw, &body))
		if f.loginStatus != 0 {
			w.WriteHeader(f.loginStatus)
			_, _ = io.WriteString(w, `{"detail":"No active account found with the given credentials"}`)
			return
		}
		_, _ = fmt.Fprintf(w, `{"access":"acc-1","refresh":"ref-1","user":{"id":42,"username":%q,"first_name":"Ana"}}`, body["username"])
	})
	mux.HandleFunc("/api/auth/refresh/", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		if f.refreshFails {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"Token is invalid or expired"}`)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]string
		require.NoError(f.t, sonic.Unmarshal(raw, &body))
		assert.Equal(f.t, "ref-1", body["refresh"])
		_, _ = io.WriteString(w, `{"access":"acc-2"}`)
	})
	mux.HandleFunc("/api/auth/me/", func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth.Store(r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"id":42,"username":"ana","email":"ana@example.com"}`)
	})
	mux.HandleFunc("/api/verification/health/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"healthy"}`)
	})
	return mux
}

type harness struct {
	mgr    *Manager
	tokens *Tokens
	bus    *eventbus.Bus
	creds  store.Store
	srv    *fakeServer
	now    time.Time
}

func newHarness(t *testing.T, cfg config.AuthConfig) *harness {
	t.Helper()
	fs := &fakeServer{t: t}
	srv := httptest.NewServer(fs.handler())
	t.Cleanup(srv.Close)

	h := &harness{srv: fs, now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }
	h.bus = eventbus.New(nil, 0)
	h.tokens = NewTokens(h.bus).WithClock(clock)
	h.creds = store.NewMemory()
	engine := rest.New(rest.Config{BaseURL: srv.URL + "/api"}, h.tokens, nil)

	mgr, err := NewManager(Options{
		Tokens:      h.tokens,
		Caller:      engine,
		Credentials: h.creds,
		Bus:         h.bus,
		Logger:      nopLogger{},
		Config:      cfg,
		Now:         clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close(context.Background()) })
	h.mgr = mgr
	return h
}

func TestLoginSetsTokenWithOneHourExpiry(t *testing.T) {
	h := newHarness(t, config.AuthConfig{TokenTTL: time.Hour})

	user, err := h.mgr.Login(context.Background(), "ana", "s3cret", false)
	require.NoError(t, err)
	assert.Equal(t, "42", user.ID)
	assert.Equal(t, "Ana", user.DisplayName())

	tok, ok := h.tokens.Get()
	require.True(t, ok)
	assert.Equal(t, "acc-1", tok.Access)
	assert.Equal(t, "ref-1", tok.Refresh)
	assert.Equal(t, h.now.Add(3600*time.Second), tok.ExpiresAt)
	assert.True(t, h.tokens.IsAuthenticated())
	assert.False(t, h.mgr.HasStoredCredentials(context.Background()))
}

func TestLoginRememberStoresCredentials(t *testing.T) {
	h := newHarness(t, config.AuthConfig{})
	_, err := h.mgr.Login(context.Background(), "ana", "s3cret", true)
	require.NoError(t, err)

	creds, ok, err := h.mgr.StoredCredentials(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ana", creds.Username)
	assert.Equal(t, "s3cret", creds.Secret)

	require.NoError(t, h.mgr.Logout(context.Background()))
	assert.False(t, h.mgr.HasStoredCredentials(context.Background()))
	assert.False(t, h.tokens.IsAuthenticated())
}

func TestLoginRejectedIsInvalidCredentials(t *testing.T) {
	h := newHarness(t, config.AuthConfig{})
	h.srv.loginStatus = http.StatusUnauthorized

	_, err := h.mgr.Login(context.Background(), "ana", "wrong", true)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindUnauthenticated))
	assert.Equal(t, "invalid_credentials", errors.CodeOf(err))
	assert.False(t, h.tokens.IsAuthenticated())
	assert.False(t, h.mgr.HasStoredCredentials(context.Background()))
}

func TestLoginRequiresBothFields(t *testing.T) {
	h := newHarness(t, config.AuthConfig{})
	_, err := h.mgr.Login(context.Background(), "", "x", false)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestRefreshFailureClearsTokensAndNotifiesLogout(t *testing.T) {
	h := newHarness(t, config.AuthConfig{})
	_, err := h.mgr.Login(context.Background(), "ana", "s3cret", false)
	require.NoError(t, err)

	var mu sync.Mutex
	var reasons []string
	h.tokens.Subscribe(eventbus.TopicLogout, func(e eventbus.Event) {
		mu.Lock()
		reasons = append(reasons, e.Payload.(eventbus.LogoutPayload).Reason)
		mu.Unlock()
	})

	h.srv.refreshFails = true
	err = h.mgr.Refresh(context.Background())
	require.Error(t, err)

	_, ok := h.tokens.Get()
	assert.False(t, ok)
	mu.Lock()
	assert.Equal(t, []string{ReasonRefreshFailed}, reasons)
	mu.Unlock()
}

// gatedCaller holds every call until release is closed.
type gatedCaller struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCaller) Call(ctx context.Context, req rest.Request) (*rest.Response, error) {
	close(g.entered)
	<-g.release
	return &rest.Response{StatusCode: http.StatusOK, Payload: map[string]any{"access": "acc-late"}}, nil
}

func TestRefreshDiscardedWhenLogoutWinsTheRace(t *testing.T) {
	bus := eventbus.New(nil, 0)
	tokens := NewTokens(bus)
	gate := &gatedCaller{entered: make(chan struct{}), release: make(chan struct{})}
	mgr, err := NewManager(Options{Tokens: tokens, Caller: gate, Bus: bus, Logger: nopLogger{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close(context.Background()) })

	var logouts, refreshed atomic.Int32
	tokens.Subscribe(eventbus.TopicLogout, func(eventbus.Event) { logouts.Add(1) })
	tokens.Subscribe(eventbus.TopicTokenRefreshed, func(eventbus.Event) { refreshed.Add(1) })

	tokens.Set("acc-1", "ref-1", time.Hour)
	done := make(chan error, 1)
	go func() { done <- mgr.Refresh(context.Background()) }()

	<-gate.entered
	require.NoError(t, mgr.Logout(context.Background()))
	close(gate.release)

	err = <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshSuperseded)
	assert.True(t, errors.IsKind(err, errors.KindUnauthenticated))
	assert.False(t, tokens.IsAuthenticated())
	_, ok := tokens.Get()
	assert.False(t, ok)
	assert.Equal(t, int32(1), logouts.Load())
	assert.Equal(t, int32(0), refreshed.Load())
}

func TestRefreshFailureAfterReloginKeepsNewSession(t *testing.T) {
	bus := eventbus.New(nil, 0)
	tokens := NewTokens(bus)
	var logouts atomic.Int32
	tokens.Subscribe(eventbus.TopicLogout, func(eventbus.Event) { logouts.Add(1) })

	tokens.Set("acc-1", "ref-1", time.Hour)
	tokens.Set("acc-9", "ref-9", time.Hour)
	assert.False(t, tokens.ClearIf("ref-1", ReasonRefreshFailed))
	assert.False(t, tokens.Replace("ref-1", "acc-2", time.Hour))

	tok, ok := tokens.Get()
	require.True(t, ok)
	assert.Equal(t, "acc-9", tok.Access)
	assert.Equal(t, int32(0), logouts.Load())

	assert.True(t, tokens.Replace("ref-9", "acc-10", time.Hour))
	assert.Equal(t, "acc-10", tokens.AccessToken())
	assert.Equal(t, "ref-9", tokens.RefreshToken())
}

func TestRefreshWithoutTokenFails(t *testing.T) {
	h := newHarness(t, config.AuthConfig{})
	err := h.mgr.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, int32(0), h.srv.refreshCalls.Load())
}

func TestRefreshKeepsRefreshTokenAndNotifies(t *testing.T) {
	h := newHarness(t, config.AuthConfig{TokenTTL: time.Hour})
	_, err := h.mgr.Login(context.Background(), "ana", "s3cret", false)
	require.NoError(t, err)

	var got atomic.Value
	h.tokens.Subscribe(eventbus.TopicTokenRefreshed, func(e eventbus.Event) { got.Store(e.Payload) })

	h.now = h.now.Add(58 * time.Minute)
	require.NoError(t, h.mgr.Refresh(context.Background()))

	tok, ok := h.tokens.Get()
	require.True(t, ok)
	assert.Equal(t, "acc-2", tok.Access)
	assert.Equal(t, "ref-1", tok.Refresh)
	assert.Equal(t, h.now.Add(time.Hour), tok.ExpiresAt)
	assert.Equal(t, "acc-2", got.Load())
}

func TestEnsureFreshHonoursThreshold(t *testing.T) {
	h := newHarness(t, config.AuthConfig{TokenTTL: time.Hour, RefreshThreshold: 5 * time.Minute})
	_, err := h.mgr.Login(context.Background(), "ana", "s3cret", false)
	require.NoError(t, err)

	h.now = h.now.Add(50 * time.Minute)
	require.NoError(t, h.mgr.EnsureFresh(context.Background()))
	assert.Equal(t, int32(0), h.srv.refreshCalls.Load())

	h.now = h.now.Add(5 * time.Minute)
	require.NoError(t, h.mgr.EnsureFresh(context.Background()))
	assert.Equal(t, int32(1), h.srv.refreshCalls.Load())
}

func TestExpiredTokenIsNotSent(t *testing.T) {
	h := newHarness(t, config.AuthConfig{TokenTTL: time.Hour})
	_, err := h.mgr.Login(context.Background(), "ana", "s3cret", false)
	require.NoError(t, err)

	h.now = h.now.Add(time.Hour)
	_, ok := h.tokens.BearerToken()
	assert.False(t, ok)
	assert.False(t, h.tokens.IsAuthenticated())
}

func TestCurrentUserUsesBearer(t *testing.T) {
	h := newHarness(t, config.AuthConfig{TokenTTL: time.Hour})
	_, err := h.mgr.Login(context.Background(), "ana", "s3cret", false)
	require.NoError(t, err)

	user, err := h.mgr.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", user.Email)
	assert.Equal(t, "Bearer acc-1", h.srv.lastAuth.Load())
}

func TestCheckHealth(t *testing.T) {
	h := newHarness(t, config.AuthConfig{})
	status, err := h.mgr.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", status)
}

func TestSessionTimeoutClearsTokens(t *testing.T) {
	h := newHarness(t, config.AuthConfig{TokenTTL: time.Hour, SessionTimeout: 20 * time.Millisecond})

	expired := make(chan struct{}, 1)
	h.bus.Subscribe(eventbus.TopicSessionExpired, func(eventbus.Event) { expired <- struct{}{} })

	_, err := h.mgr.Login(context.Background(), "ana", "s3cret", false)
	require.NoError(t, err)

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not expire")
	}
	_, ok := h.tokens.Get()
	assert.False(t, ok)
	_, ok = h.mgr.User()
	assert.False(t, ok)
}

func TestTokenTTLFromJWTExpiry(t *testing.T) {
	h := newHarness(t, config.AuthConfig{TokenTTL: time.Hour, UseTokenExpiry: true})
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp":     h.now.Add(15 * time.Minute).Unix(),
		"user_id": 7,
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, h.mgr.tokenTTL(signed))
	assert.Equal(t, time.Hour, h.mgr.tokenTTL("not-a-jwt"))

	claims, err := ParseClaims(signed)
	require.NoError(t, err)
	assert.Equal(t, "7", claims.UserID)
}

func TestTokenPredicates(t *testing.T) {
	now := time.Unix(1000, 0)
	tok := Token{ExpiresAt: now.Add(10 * time.Minute)}
	assert.False(t, tok.IsExpired(now))
	assert.True(t, tok.IsExpired(now.Add(10*time.Minute)))
	assert.False(t, tok.NeedsRefresh(now, 5*time.Minute))
	assert.True(t, tok.NeedsRefresh(now.Add(5*time.Minute), 5*time.Minute))
}
