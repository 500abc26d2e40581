package operator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-verify-client/internal/domain/auth"
	"merchant-verify-client/internal/domain/eventbus"
	"merchant-verify-client/internal/domain/task"
	"merchant-verify-client/internal/domain/verification"
	"merchant-verify-client/internal/platform/config"
	"merchant-verify-client/internal/platform/errors"
	"merchant-verify-client/internal/platform/i18n"
	"merchant-verify-client/internal/transport/rest"
	"merchant-verify-client/internal/transport/ws"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type fakeAuth struct {
	tokens *auth.Tokens
}

func (f *fakeAuth) Login(_ context.Context, username, password string, _ bool) (auth.User, error) {
	if password != "secret" {
		return auth.User{}, errors.New(errors.KindUnauthenticated, "auth.login", "bad credentials").
			WithStatus(401, "invalid_credentials")
	}
	f.tokens.Set("access-1", "refresh-1", time.Hour)
	return auth.User{ID: "17", Username: username}, nil
}

func (f *fakeAuth) Logout(context.Context) error {
	f.tokens.Clear(auth.ReasonLogout)
	return nil
}

func (f *fakeAuth) EnsureFresh(context.Context) error {
	if !f.tokens.IsAuthenticated() {
		return errors.New(errors.KindUnauthenticated, "auth.ensure_fresh", "not logged in").WithCode(errors.CodeTokenExpired)
	}
	return nil
}

func (f *fakeAuth) Tokens() auth.TokenStore { return f.tokens }

type fakeRealtime struct {
	mu           sync.Mutex
	userID       string
	credential   string
	disconnected int
}

func (f *fakeRealtime) ConnectUser(userID, credential string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userID, f.credential = userID, credential
}

func (f *fakeRealtime) DisconnectUser() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected++
	f.userID = ""
}

func (f *fakeRealtime) UpdateCredential(c string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credential = c
}

func (f *fakeRealtime) Phase() ws.Phase        { return ws.PhaseConnected }
func (f *fakeRealtime) ReconnectAttempts() int { return 0 }

func (f *fakeRealtime) snapshot() (string, string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userID, f.credential, f.disconnected
}

// fakeServer answers verification calls; a PIN of 123456 is correct.
type fakeServer struct {
	mu        sync.Mutex
	calls     map[string]int
	sendFails bool
}

func (s *fakeServer) Call(_ context.Context, req rest.Request) (*rest.Response, error) {
	s.mu.Lock()
	s.calls[req.Target]++
	sendFails := s.sendFails
	s.mu.Unlock()

	body, _ := req.Body.(map[string]any)
	switch req.Target {
	case config.EndpointSendEmail:
		if sendFails {
			return nil, errors.New(errors.KindNetwork, "rest.call", "dial tcp 10.0.0.7:443: connect: connection refused")
		}
		return &rest.Response{StatusCode: 200, Payload: map[string]any{"auth_id": "auth-1", "message": "sent"}}, nil
	case config.EndpointVerifyPIN:
		if body["pin"] != "123456" {
			return nil, errors.New(errors.KindServer, "rest.call", "Invalid PIN").WithStatus(400, "invalid_pin")
		}
		return &rest.Response{StatusCode: 200, Payload: map[string]any{"message": "verified"}}, nil
	}
	return &rest.Response{StatusCode: 200, Payload: map[string]any{}}, nil
}

func (s *fakeServer) count(target string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[target]
}

type harness struct {
	op       *Operator
	cancel   context.CancelFunc
	stopped  chan struct{}
	bus      *eventbus.Bus
	auth     *fakeAuth
	realtime *fakeRealtime
	server   *fakeServer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bus := eventbus.New(nil, 1)
	catalog, err := i18n.LoadEmbedded()
	require.NoError(t, err)
	dispatcher := task.NewDispatcher(task.Config{Workers: 2, QueueSize: 8}, nil)

	h := &harness{
		bus:      bus,
		auth:     &fakeAuth{tokens: auth.NewTokens(bus)},
		realtime: &fakeRealtime{},
		server:   &fakeServer{calls: map[string]int{}},
	}
	h.op, err = New(Options{
		Auth:         h.auth,
		Caller:       h.server,
		Realtime:     h.realtime,
		Dispatcher:   dispatcher,
		Bus:          bus,
		Translator:   i18n.NewTranslator(catalog, "en", 6),
		Logger:       nopLogger{},
		Verification: config.VerificationConfig{MaxAttempts: 5, CodeLength: 6, MaxTargetIDChars: 50},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel, h.stopped = cancel, make(chan struct{})
	go func() {
		_ = h.op.Run(ctx)
		close(h.stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.stopped
		dispatcher.Close()
		bus.Close()
	})
	return h
}

func (h *harness) do(t *testing.T, in Intent) Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := h.op.Do(ctx, in)
	require.NoError(t, err)
	return r
}

// view is safe to call from Eventually callbacks.
func (h *harness) view() View {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, _ := h.op.Do(ctx, Intent{Kind: IntentSnapshot})
	return r.View
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	r := h.do(t, Intent{Kind: IntentLogin, Username: "alice", Password: "secret"})
	require.NoError(t, r.Err)
	require.True(t, r.View.Authenticated)
}

func (h *harness) awaitingCode(t *testing.T) {
	t.Helper()
	r := h.do(t, Intent{Kind: IntentSelectTarget, Channel: verification.ChannelEmail,
		Target: verification.Target{ID: "42", Contact: "owner@shop.example"}})
	require.NoError(t, r.Err)
	r = h.do(t, Intent{Kind: IntentSend, Channel: verification.ChannelEmail})
	require.NoError(t, r.Err)
	require.Equal(t, verification.StateAwaitingCode, r.View.Email.State)
}

func TestLoginConnectsRealtime(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	r := h.do(t, Intent{Kind: IntentSnapshot})
	require.NotNil(t, r.View.User)
	assert.Equal(t, "alice", r.View.User.Username)
	assert.Equal(t, "Logged in as alice", r.View.Status.Text)

	user, credential, _ := h.realtime.snapshot()
	assert.Equal(t, "17", user)
	assert.Equal(t, "access-1", credential)
}

func TestLoginFailureIsTranslated(t *testing.T) {
	h := newHarness(t)
	r := h.do(t, Intent{Kind: IntentLogin, Username: "alice", Password: "wrong"})
	require.Error(t, r.Err)
	assert.Equal(t, "Invalid username or password", r.Message)
	assert.False(t, r.View.Authenticated)
}

func TestWorkflowRequiresLogin(t *testing.T) {
	h := newHarness(t)
	r := h.do(t, Intent{Kind: IntentSend, Channel: verification.ChannelEmail})
	assert.True(t, errors.IsKind(r.Err, errors.KindUnauthenticated))
	assert.Zero(t, h.server.count(config.EndpointSendEmail))
}

func TestEmailVerificationCompletes(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.awaitingCode(t)

	r := h.do(t, Intent{Kind: IntentEnterCode, Channel: verification.ChannelEmail, Digits: "123"})
	require.NoError(t, r.Err)
	assert.Equal(t, 3, r.View.Email.EnteredCode)

	r = h.do(t, Intent{Kind: IntentEnterCode, Channel: verification.ChannelEmail, Digits: "456"})
	require.NoError(t, r.Err)
	assert.Equal(t, verification.StateIdle, r.View.Email.State)
	assert.Equal(t, "Verification complete", r.View.Status.Text)
	assert.Equal(t, 1, h.server.count(config.EndpointVerifyPIN))
}

func TestAttemptBudgetStopsAtFive(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.awaitingCode(t)

	for i := 0; i < 5; i++ {
		r := h.do(t, Intent{Kind: IntentEnterCode, Channel: verification.ChannelEmail, Digits: "000000"})
		require.Error(t, r.Err)
	}
	r := h.do(t, Intent{Kind: IntentSnapshot})
	assert.Equal(t, verification.StateFailed, r.View.Email.State)

	r = h.do(t, Intent{Kind: IntentSubmit, Channel: verification.ChannelEmail})
	assert.True(t, errors.IsKind(r.Err, errors.KindAttemptBudget))
	assert.Equal(t, 5, h.server.count(config.EndpointVerifyPIN))
}

func TestFailureTextInViewIsTranslated(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.server.mu.Lock()
	h.server.sendFails = true
	h.server.mu.Unlock()

	r := h.do(t, Intent{Kind: IntentSelectTarget, Channel: verification.ChannelEmail,
		Target: verification.Target{ID: "42", Contact: "owner@shop.example"}})
	require.NoError(t, r.Err)
	r = h.do(t, Intent{Kind: IntentSend, Channel: verification.ChannelEmail})
	require.Error(t, r.Err)
	assert.Equal(t, verification.StateTargetSelected, r.View.Email.State)
	assert.Equal(t, "Network error occurred. Please try again", r.View.Email.LastMessage)
	assert.NotContains(t, r.View.Email.LastMessage, "rest.call")
	assert.NotContains(t, r.View.Email.LastMessage, "10.0.0.7")

	h.server.mu.Lock()
	h.server.sendFails = false
	h.server.mu.Unlock()
	r = h.do(t, Intent{Kind: IntentSend, Channel: verification.ChannelEmail})
	require.NoError(t, r.Err)

	r = h.do(t, Intent{Kind: IntentEnterCode, Channel: verification.ChannelEmail, Digits: "000000"})
	require.Error(t, r.Err)
	assert.Equal(t, "The PIN code you entered is incorrect", r.View.Email.LastMessage)
}

func TestRealtimeUpdateCompletesSession(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.awaitingCode(t)

	h.bus.Publish(eventbus.TopicRealtimeMessage, ws.Message{Type: ws.TypeVerificationStatus, Status: "verified", AuthID: "other"})
	h.bus.Publish(eventbus.TopicRealtimeMessage, ws.Message{Type: ws.TypeVerificationStatus, Status: "verified", AuthID: "auth-1"})

	require.Eventually(t, func() bool {
		return h.view().Email.State == verification.StateIdle
	}, time.Second, 10*time.Millisecond)
	assert.Zero(t, h.server.count(config.EndpointVerifyPIN))
}

func TestForcedLogoutResetsWorkflows(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.awaitingCode(t)

	h.auth.tokens.Clear(auth.ReasonRefreshFailed)

	require.Eventually(t, func() bool {
		return h.view().User == nil
	}, time.Second, 10*time.Millisecond)
	r := h.do(t, Intent{Kind: IntentSnapshot})
	assert.Equal(t, verification.StateIdle, r.View.Email.State)
	assert.Equal(t, "Your session has expired. Please log in again", r.View.Status.Text)
	_, _, disconnected := h.realtime.snapshot()
	assert.GreaterOrEqual(t, disconnected, 1)
}

func TestTokenRefreshUpdatesRealtimeCredential(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	h.auth.tokens.Set("access-2", "refresh-1", time.Hour)
	h.auth.tokens.NotifyRefreshed()

	require.Eventually(t, func() bool {
		_, credential, _ := h.realtime.snapshot()
		return credential == "access-2"
	}, time.Second, 10*time.Millisecond)
}

func TestLogoutIntent(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	r := h.do(t, Intent{Kind: IntentLogout})
	require.NoError(t, r.Err)
	assert.False(t, r.View.Authenticated)
	assert.Nil(t, r.View.User)
	assert.Equal(t, "Logged out", r.View.Status.Text)
}

func TestFetchRunsOnPool(t *testing.T) {
	h := newHarness(t)
	r := h.do(t, Intent{Kind: IntentFetch, Name: "lookup", Fetch: func(context.Context) (any, error) {
		return []string{"a", "b"}, nil
	}})
	require.NoError(t, r.Err)
	assert.Equal(t, []string{"a", "b"}, r.Data)

	r = h.do(t, Intent{Kind: IntentFetch})
	assert.True(t, errors.IsKind(r.Err, errors.KindValidation))
}

func TestDoAfterStop(t *testing.T) {
	h := newHarness(t)
	h.cancel()
	<-h.stopped
	_, err := h.op.Do(context.Background(), Intent{Kind: IntentSnapshot})
	assert.ErrorIs(t, err, ErrStopped)
}
