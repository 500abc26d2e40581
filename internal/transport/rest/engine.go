package rest

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"merchant-verify-client/internal/platform/errors"
	"merchant-verify-client/internal/platform/observability"
)

var (
	// ErrConnection is the cause of a Network error when the host could not be reached.
	ErrConnection = stderrors.New("connection failed")
	// ErrTimeout is the cause of a Network error when an attempt ran out of time.
	ErrTimeout = stderrors.New("request timed out")
)

const maxBodyBytes = 4 << 20

// TokenSource supplies the bearer token at send time. ok is false when there
// is no token or it has expired.
type TokenSource interface {
	BearerToken() (token string, ok bool)
}

// Logger is the subset of the platform logger used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
	RetryStatuses []int
	// RetryMethods limits retries to these methods. Empty retries every method.
	RetryMethods []string
	UserAgent    string
}

type Request struct {
	Method        string
	Target        string
	Authenticated bool
	Body          any
	Query         url.Values
	// Timeout overrides the per-attempt timeout when positive.
	Timeout time.Duration
}

type Response struct {
	StatusCode int
	Payload    map[string]any
	Attempts   int
}

// Engine issues JSON HTTP calls with per-attempt timeouts, retry with
// exponential backoff, and uniform failure classification.
type Engine struct {
	cfg     Config
	client  *http.Client
	tokens  TokenSource
	logger  Logger
	sleep   func(ctx context.Context, d time.Duration) error
	retryOn map[int]bool
	methods map[string]bool
}

type Option func(*Engine)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

func New(cfg Config, tokens TokenSource, logger Logger, opts ...Option) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.RetryStatuses == nil {
		cfg.RetryStatuses = []int{429, 500, 502, 503, 504}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "merchant-verify-client/1.0"
	}

	e := &Engine{
		cfg:     cfg,
		client:  &http.Client{},
		tokens:  tokens,
		logger:  logger,
		sleep:   sleepCtx,
		retryOn: make(map[int]bool, len(cfg.RetryStatuses)),
	}
	for _, s := range cfg.RetryStatuses {
		e.retryOn[s] = true
	}
	if len(cfg.RetryMethods) > 0 {
		e.methods = make(map[string]bool, len(cfg.RetryMethods))
		for _, m := range cfg.RetryMethods {
			e.methods[strings.ToUpper(m)] = true
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Get(ctx context.Context, target string, query url.Values) (*Response, error) {
	return e.Call(ctx, Request{Method: http.MethodGet, Target: target, Authenticated: true, Query: query})
}

func (e *Engine) Post(ctx context.Context, target string, body any) (*Response, error) {
	return e.Call(ctx, Request{Method: http.MethodPost, Target: target, Authenticated: true, Body: body})
}

func (e *Engine) GetPublic(ctx context.Context, target string, query url.Values) (*Response, error) {
	return e.Call(ctx, Request{Method: http.MethodGet, Target: target, Query: query})
}

func (e *Engine) PostPublic(ctx context.Context, target string, body any) (*Response, error) {
	return e.Call(ctx, Request{Method: http.MethodPost, Target: target, Body: body})
}

// Call performs req. A nil error means a 2xx response.
func (e *Engine) Call(ctx context.Context, req Request) (*Response, error) {
	const op = "rest.call"
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := e.resolve(req.Target, req.Query)
	if err != nil {
		return nil, errors.Wrap(errors.KindRequest, op, "invalid target", err)
	}
	if req.Authenticated {
		if _, ok := e.tokens.BearerToken(); !ok {
			return nil, errors.New(errors.KindUnauthenticated, op, "authentication required").
				WithStatus(http.StatusUnauthorized, errors.CodeTokenExpired)
		}
	}

	var body []byte
	if req.Body != nil {
		body, err = sonic.Marshal(req.Body)
		if err != nil {
			return nil, errors.Wrap(errors.KindRequest, op, "encode request body", err)
		}
	}

	timeout := e.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	maxAttempts := 1
	if e.methods == nil || e.methods[method] {
		maxAttempts += e.cfg.MaxRetries
	}
	requestID := uuid.NewString()

	ctx, endSpan := observability.StartSpan(ctx, "rest", method+" "+req.Target)
	for attempt := 1; ; attempt++ {
		status, payload, header, callErr := e.attempt(ctx, method, target, body, req.Authenticated, timeout, requestID)

		if callErr == nil && status >= 200 && status < 300 {
			e.record(ctx, method, status)
			endSpan(nil)
			return &Response{StatusCode: status, Payload: payload, Attempts: attempt}, nil
		}

		var finalErr error
		var wait time.Duration
		retry := false
		switch {
		case callErr != nil:
			finalErr = e.classifyTransport(op, callErr)
			retry = errors.IsKind(finalErr, errors.KindNetwork) && ctx.Err() == nil
			wait = e.backoff(attempt)
			e.record(ctx, method, 0)
		default:
			finalErr = httpError(op, status, payload)
			retry = e.retryOn[status]
			wait = e.retryAfter(header, attempt)
			e.record(ctx, method, status)
		}

		if !retry || attempt >= maxAttempts {
			e.logf(attempt, method, req.Target, finalErr)
			endSpan(finalErr)
			return nil, finalErr
		}
		if e.logger != nil {
			e.logger.Debug("[HTTP] %s %s attempt %d failed, retrying in %s: %v", method, req.Target, attempt, wait, finalErr)
		}
		if err := e.sleep(ctx, wait); err != nil {
			cancelled := errors.Wrap(errors.KindRequest, op, "request cancelled", err)
			endSpan(cancelled)
			return nil, cancelled
		}
	}
}

func (e *Engine) attempt(ctx context.Context, method, target string, body []byte, authenticated bool,
	timeout time.Duration, requestID string) (int, map[string]any, http.Header, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, target, reader)
	if err != nil {
		return 0, nil, nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", e.cfg.UserAgent)
	httpReq.Header.Set("X-Request-ID", requestID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		// read at send time so a refresh between attempts is honoured
		token, ok := e.tokens.BearerToken()
		if !ok {
			return 0, nil, nil, errUnauthenticatedMidFlight
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, decodePayload(raw), resp.Header, nil
}

var errUnauthenticatedMidFlight = stderrors.New("token expired between attempts")

func (e *Engine) resolve(target string, query url.Values) (string, error) {
	var full string
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		full = target
	} else {
		if e.cfg.BaseURL == "" {
			return "", fmt.Errorf("no base url for relative target %q", target)
		}
		full = strings.TrimRight(e.cfg.BaseURL, "/") + "/" + strings.TrimLeft(target, "/")
	}
	u, err := url.Parse(full)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (e *Engine) classifyTransport(op string, err error) error {
	if stderrors.Is(err, errUnauthenticatedMidFlight) {
		return errors.New(errors.KindUnauthenticated, op, "authentication required").
			WithStatus(http.StatusUnauthorized, errors.CodeTokenExpired)
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.Wrap(errors.KindRequest, op, "request cancelled", err)
	}

	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		return errors.Wrap(errors.KindNetwork, op, "request timed out", fmt.Errorf("%w: %v", ErrTimeout, err)).
			WithCode(errors.CodeTimeout)
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if stderrors.As(err, &opErr) || stderrors.As(err, &dnsErr) ||
		stderrors.Is(err, syscall.ECONNREFUSED) || stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Wrap(errors.KindNetwork, op, "unable to connect to server", fmt.Errorf("%w: %v", ErrConnection, err)).
			WithCode(errors.CodeConnection)
	}
	return errors.Wrap(errors.KindRequest, op, "request failed", err)
}

// backoff returns RetryDelay * 2^(attempt-1), capped at RetryMaxDelay.
func (e *Engine) backoff(attempt int) time.Duration {
	d := float64(e.cfg.RetryDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(e.cfg.RetryMaxDelay) {
		return e.cfg.RetryMaxDelay
	}
	return time.Duration(d)
}

func (e *Engine) retryAfter(h http.Header, attempt int) time.Duration {
	if h != nil {
		if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
				d := time.Duration(secs) * time.Second
				if d > e.cfg.RetryMaxDelay {
					d = e.cfg.RetryMaxDelay
				}
				return d
			}
		}
	}
	return e.backoff(attempt)
}

func (e *Engine) record(ctx context.Context, method string, status int) {
	observability.RecordMetric(ctx, "rest_attempts_total", 1, map[string]string{
		"method": method,
		"status": strconv.Itoa(status),
	})
}

func (e *Engine) logf(attempts int, method, target string, err error) {
	if e.logger == nil {
		return
	}
	switch errors.KindOf(err) {
	case errors.KindUnauthenticated, errors.KindServer:
		e.logger.Warn("[HTTP] %s %s failed after %d attempt(s): %v", method, target, attempts, err)
	default:
		e.logger.Error("[HTTP] %s %s failed after %d attempt(s): %v", method, target, attempts, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
