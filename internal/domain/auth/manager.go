package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"merchant-verify-client/internal/domain/auth/model"
	"merchant-verify-client/internal/domain/auth/store"
	"merchant-verify-client/internal/domain/eventbus"
	"merchant-verify-client/internal/platform/config"
	"merchant-verify-client/internal/platform/errors"
	"merchant-verify-client/internal/transport/rest"
)

type (
	// User re-exports the shared identity entity for callers.
	User = model.User
	// Logger re-exports the logging interface used across the domain.
	Logger = model.Logger
)

// Logout reasons carried on TopicLogout.
const (
	ReasonLogout         = "logout"
	ReasonRefreshFailed  = "refresh_failed"
	ReasonSessionTimeout = "session_timeout"
)

const defaultTokenTTL = time.Hour

// ErrNoRefreshToken is the cause when a refresh is attempted without a refresh token.
var ErrNoRefreshToken = stderrors.New("no refresh token available")

// ErrRefreshSuperseded is the cause when the session ended while a refresh was in flight.
var ErrRefreshSuperseded = stderrors.New("refresh superseded")

// Caller is the request engine surface the manager needs.
type Caller interface {
	Call(ctx context.Context, req rest.Request) (*rest.Response, error)
}

// Options encapsulates the dependencies required to construct a Manager.
type Options struct {
	Tokens      TokenStore
	Caller      Caller
	Credentials store.Store
	Bus         *eventbus.Bus
	Logger      Logger
	Config      config.AuthConfig
	Now         func() time.Time
}

// Manager owns the login session: token acquisition, refresh, the session
// deadline, and remembered credentials.
type Manager struct {
	tokens TokenStore
	caller Caller
	creds  store.Store
	bus    *eventbus.Bus
	logger Logger
	cfg    config.AuthConfig
	now    func() time.Time

	mu           sync.RWMutex
	user         *User
	sessionTimer *time.Timer
	sessionGen   uint64

	// serialises refresh so concurrent callers do not race the server.
	refreshMu sync.Mutex
}

// NewManager wires a Manager using the supplied options.
func NewManager(opts Options) (*Manager, error) {
	if opts.Tokens == nil {
		return nil, stderrors.New("auth manager requires a token store")
	}
	if opts.Caller == nil {
		return nil, stderrors.New("auth manager requires a request engine")
	}
	if opts.Bus == nil {
		return nil, stderrors.New("auth manager requires an event bus")
	}
	if opts.Logger == nil {
		return nil, stderrors.New("auth manager requires a logger")
	}
	if opts.Credentials == nil {
		opts.Logger.Warn("[认证] no credential store configured, remember-me uses memory")
		opts.Credentials = store.NewMemory()
	}
	if opts.Config.TokenTTL <= 0 {
		opts.Config.TokenTTL = defaultTokenTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		tokens: opts.Tokens,
		caller: opts.Caller,
		creds:  opts.Credentials,
		bus:    opts.Bus,
		logger: opts.Logger,
		cfg:    opts.Config,
		now:    opts.Now,
	}, nil
}

// Tokens exposes the token store, mainly for subscribers.
func (m *Manager) Tokens() TokenStore {
	return m.tokens
}

// Login exchanges username and password for a token pair. With remember set
// the credentials are persisted for the next start.
func (m *Manager) Login(ctx context.Context, username, password string, remember bool) (User, error) {
	const op = "auth.login"
	if username == "" || password == "" {
		return User{}, errors.New(errors.KindValidation, op, "username and password are required").
			WithCode(errors.CodeRequiredField)
	}
	m.logger.Info("[认证] attempting login for %s", username)

	resp, err := m.caller.Call(ctx, rest.Request{
		Method: "POST",
		Target: config.EndpointLogin,
		Body:   map[string]any{"username": username, "password": password},
	})
	if err != nil {
		if errors.IsKind(err, errors.KindUnauthenticated) {
			var typed *errors.Error
			if stderrors.As(err, &typed) && typed.Code == "" {
				typed.Code = "invalid_credentials"
			}
		}
		m.logger.Warn("[认证] login failed for %s: %v", username, err)
		return User{}, err
	}

	access := rest.StringField(resp.Payload, "access")
	refresh := rest.StringField(resp.Payload, "refresh")
	if access == "" || refresh == "" {
		return User{}, errors.New(errors.KindProtocol, op, "login response is missing tokens")
	}

	m.tokens.Set(access, refresh, m.tokenTTL(access))
	user := userFromPayload(rest.MapField(resp.Payload, "user"))
	if user.Username == "" {
		user.Username = username
	}
	if user.ID == "" {
		if claims, cerr := ParseClaims(access); cerr == nil {
			user.ID = claims.UserID
		}
	}

	m.mu.Lock()
	m.user = &user
	m.mu.Unlock()
	m.armSession()

	if remember {
		if err := m.creds.Store(ctx, username, password); err != nil {
			m.logger.Warn("[认证] failed to remember credentials: %v", err)
		}
	}

	m.logger.Info("[认证] login succeeded for %s", username)
	m.bus.Publish(eventbus.TopicLoginSucceeded, user)
	return user, nil
}

// Logout forgets remembered credentials, ends the session, and clears the tokens.
func (m *Manager) Logout(ctx context.Context) error {
	var err error
	if cerr := m.creds.Clear(ctx); cerr != nil {
		err = errors.Wrap(errors.KindStorage, "auth.logout", "failed to clear credentials", cerr)
		m.logger.Warn("[认证] %v", err)
	}
	m.endSession()
	m.tokens.Clear(ReasonLogout)
	m.logger.Info("[认证] logged out")
	return err
}

// Refresh obtains a new access token. Any failure clears the tokens.
func (m *Manager) Refresh(ctx context.Context) error {
	const op = "auth.refresh"
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	refresh := m.tokens.RefreshToken()
	if refresh == "" {
		return errors.Wrap(errors.KindUnauthenticated, op, "no refresh token available", ErrNoRefreshToken).
			WithCode(errors.CodeTokenExpired)
	}

	resp, err := m.caller.Call(ctx, rest.Request{
		Method: "POST",
		Target: config.EndpointRefresh,
		Body:   map[string]any{"refresh": refresh},
	})
	if err != nil {
		m.logger.Warn("[认证] token refresh failed: %v", err)
		m.tokens.ClearIf(refresh, ReasonRefreshFailed)
		return err
	}
	access := rest.StringField(resp.Payload, "access")
	if access == "" {
		m.tokens.ClearIf(refresh, ReasonRefreshFailed)
		return errors.New(errors.KindProtocol, op, "refresh response is missing the access token")
	}
	// only the access token is replaced; the refresh token is reused
	if !m.tokens.Replace(refresh, access, m.tokenTTL(access)) {
		m.logger.Info("[认证] refresh result discarded, session changed while in flight")
		return errors.Wrap(errors.KindUnauthenticated, op, "refresh superseded by logout", ErrRefreshSuperseded).
			WithCode(errors.CodeTokenExpired)
	}
	m.logger.Debug("[认证] access token refreshed")
	m.tokens.NotifyRefreshed()
	return nil
}

// EnsureFresh refreshes when the token is within the refresh threshold.
func (m *Manager) EnsureFresh(ctx context.Context) error {
	tok, ok := m.tokens.Get()
	if !ok {
		return errors.New(errors.KindUnauthenticated, "auth.ensure_fresh", "not logged in").
			WithCode(errors.CodeTokenExpired)
	}
	if !tok.NeedsRefresh(m.now(), m.cfg.RefreshThreshold) {
		return nil
	}
	return m.Refresh(ctx)
}

// RunAutoRefresh checks the token every RefreshCheckInterval until ctx ends.
func (m *Manager) RunAutoRefresh(ctx context.Context) error {
	interval := m.cfg.RefreshCheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tok, ok := m.tokens.Get()
			if !ok || !tok.NeedsRefresh(m.now(), m.cfg.RefreshThreshold) {
				continue
			}
			if err := m.Refresh(ctx); err != nil {
				m.logger.Warn("[认证] automatic refresh failed: %v", err)
			}
		}
	}
}

// CurrentUser fetches the identity of the logged-in operator.
func (m *Manager) CurrentUser(ctx context.Context) (User, error) {
	if err := m.EnsureFresh(ctx); err != nil {
		return User{}, err
	}
	resp, err := m.caller.Call(ctx, rest.Request{
		Method:        "GET",
		Target:        config.EndpointCurrentUser,
		Authenticated: true,
	})
	if err != nil {
		m.logger.Warn("[认证] failed to get user info: %v", err)
		return User{}, err
	}
	user := userFromPayload(resp.Payload)
	m.mu.Lock()
	m.user = &user
	m.mu.Unlock()
	return user, nil
}

// User returns the identity cached at login.
func (m *Manager) User() (User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return User{}, false
	}
	return *m.user, true
}

// CheckHealth calls the public health endpoint and returns the reported status.
func (m *Manager) CheckHealth(ctx context.Context) (string, error) {
	resp, err := m.caller.Call(ctx, rest.Request{Method: "GET", Target: config.EndpointHealth})
	if err != nil {
		return "", err
	}
	status := rest.StringField(resp.Payload, "status")
	if status == "" {
		status = "ok"
	}
	return status, nil
}

// StoredCredentials returns the remembered login, if any.
func (m *Manager) StoredCredentials(ctx context.Context) (model.Credentials, bool, error) {
	return m.creds.Get(ctx)
}

func (m *Manager) HasStoredCredentials(ctx context.Context) bool {
	ok, err := m.creds.Has(ctx)
	if err != nil {
		m.logger.Warn("[认证] credential store unavailable: %v", err)
		return false
	}
	return ok
}

// Close stops the session timer and releases the credential store.
func (m *Manager) Close(ctx context.Context) error {
	m.endSession()
	return m.creds.Close(ctx)
}

func (m *Manager) tokenTTL(access string) time.Duration {
	if !m.cfg.UseTokenExpiry {
		return m.cfg.TokenTTL
	}
	claims, err := ParseClaims(access)
	if err != nil || claims.ExpiresAt.IsZero() {
		return m.cfg.TokenTTL
	}
	ttl := claims.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		return m.cfg.TokenTTL
	}
	return ttl
}

// armSession starts the fixed session deadline. It is armed at login only.
func (m *Manager) armSession() {
	if m.cfg.SessionTimeout <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionTimer != nil {
		m.sessionTimer.Stop()
	}
	m.sessionGen++
	gen := m.sessionGen
	m.sessionTimer = time.AfterFunc(m.cfg.SessionTimeout, func() { m.expireSession(gen) })
}

func (m *Manager) expireSession(gen uint64) {
	m.mu.Lock()
	if gen != m.sessionGen {
		m.mu.Unlock()
		return
	}
	m.sessionTimer = nil
	m.user = nil
	m.mu.Unlock()

	if _, ok := m.tokens.Get(); !ok {
		return
	}
	m.logger.Info("[认证] session timed out after %s", m.cfg.SessionTimeout)
	m.tokens.Clear(ReasonSessionTimeout)
	m.bus.Publish(eventbus.TopicSessionExpired, fmt.Sprintf("session expired after %s", m.cfg.SessionTimeout))
}

func (m *Manager) endSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionGen++
	if m.sessionTimer != nil {
		m.sessionTimer.Stop()
		m.sessionTimer = nil
	}
	m.user = nil
}

func userFromPayload(p map[string]any) User {
	if p == nil {
		return User{}
	}
	return User{
		ID:        rest.StringField(p, "id"),
		Username:  rest.StringField(p, "username"),
		Email:     rest.StringField(p, "email"),
		FirstName: rest.StringField(p, "first_name"),
		LastName:  rest.StringField(p, "last_name"),
		Raw:       p,
	}
}
