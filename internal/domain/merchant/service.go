package merchant

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"merchant-verify-client/internal/platform/config"
	"merchant-verify-client/internal/transport/rest"
)

const (
	minQueryLength  = 2
	defaultPageSize = 20
	defaultCacheTTL = 30 * time.Second
	maxCacheEntries = 100
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// Caller is the request engine surface used for lookups.
type Caller interface {
	Call(ctx context.Context, req rest.Request) (*rest.Response, error)
}

// Merchant is one search hit. The record is opaque to the client; only the
// fields needed to pick a verification target are lifted out of Raw.
type Merchant struct {
	ID           string         `json:"merchant_id"`
	BackEndMID   string         `json:"back_end_mid,omitempty"`
	Name         string         `json:"dba"`
	ContactEmail string         `json:"contact_email,omitempty"`
	ContactPhone string         `json:"contact_phone,omitempty"`
	Raw          map[string]any `json:"raw,omitempty"`
}

type cacheEntry struct {
	results []Merchant
	stored  time.Time
}

// Service looks merchants up through the universal search endpoint and keeps
// a short lived cache of result pages.
type Service struct {
	caller Caller
	logger Logger
	ttl    time.Duration
	now    func() time.Time

	maxEntries int
	minQuery   int
	pageSize   int

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type Option func(*Service)

// WithTTL overrides the cache lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLimits applies the configured cache size, minimum query length and
// default page size. Non-positive values keep the defaults.
func WithLimits(cacheSize, minQuery, pageSize int) Option {
	return func(s *Service) {
		if cacheSize > 0 {
			s.maxEntries = cacheSize
		}
		if minQuery > 0 {
			s.minQuery = minQuery
		}
		if pageSize > 0 {
			s.pageSize = pageSize
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(caller Caller, logger Logger, opts ...Option) *Service {
	s := &Service{
		caller: caller,
		logger: logger,
		ttl:    defaultCacheTTL,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),

		maxEntries: maxCacheEntries,
		minQuery:   minQueryLength,
		pageSize:   defaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search runs a partial-match lookup. Queries shorter than the minimum
// length (two characters by default) return nothing without touching the network.
func (s *Service) Search(ctx context.Context, query string, page, pageSize int) ([]Merchant, error) {
	query = sanitize(query)
	if len([]rune(query)) < s.minQuery {
		return nil, nil
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.pageSize
	}

	key := cacheKey(query, page, pageSize)
	if hit, ok := s.lookup(key); ok {
		s.debug("[验证] merchant search cache hit: %q", query)
		return hit, nil
	}

	resp, err := s.caller.Call(ctx, rest.Request{
		Method:        http.MethodGet,
		Target:        config.EndpointMerchantSearch,
		Authenticated: true,
		Query: url.Values{
			"q":         {query},
			"page":      {strconv.Itoa(page)},
			"page_size": {strconv.Itoa(pageSize)},
		},
	})
	if err != nil {
		return nil, err
	}

	rows := rest.ListField(resp.Payload, "results")
	out := make([]Merchant, 0, len(rows))
	for _, row := range rows {
		if m, ok := row.(map[string]any); ok {
			out = append(out, fromPayload(m))
		}
	}
	if s.logger != nil {
		s.logger.Info("[验证] merchant search %q: %d results", query, len(out))
	}
	s.store(key, out)
	return out, nil
}

// Invalidate drops every cached page that contains the merchant.
func (s *Service) Invalidate(merchantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.cache {
		for _, m := range e.results {
			if m.ID == merchantID {
				delete(s.cache, key)
				break
			}
		}
	}
}

// ClearCache empties the cache.
func (s *Service) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string]cacheEntry)
	s.mu.Unlock()
	s.debug("[验证] merchant cache cleared")
}

// CacheSize reports the number of cached pages.
func (s *Service) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// FormatDisplay renders a merchant as a single list line.
func FormatDisplay(m *Merchant) string {
	if m == nil {
		return "No merchant data"
	}
	return fmt.Sprintf("%s (%s) - %s", orNA(m.Name, "Unknown"), orNA(m.BackEndMID, "N/A"), orNA(m.ContactEmail, "N/A"))
}

func (s *Service) lookup(key string) ([]Merchant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[key]
	if !ok {
		return nil, false
	}
	if s.now().Sub(e.stored) >= s.ttl {
		delete(s.cache, key)
		return nil, false
	}
	return e.results, true
}

func (s *Service) store(key string, results []Merchant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.cache[key] = cacheEntry{results: results, stored: now}
	if len(s.cache) <= s.maxEntries {
		return
	}
	for k, e := range s.cache {
		if now.Sub(e.stored) >= s.ttl {
			delete(s.cache, k)
		}
	}
	// still over the cap: evict the oldest pages
	for len(s.cache) > s.maxEntries {
		oldestKey, oldest := "", now
		for k, e := range s.cache {
			if k != key && !e.stored.After(oldest) {
				oldestKey, oldest = k, e.stored
			}
		}
		if oldestKey == "" {
			return
		}
		delete(s.cache, oldestKey)
	}
}

func (s *Service) debug(format string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(format, args...)
	}
}

func fromPayload(p map[string]any) Merchant {
	m := Merchant{
		ID:           rest.StringField(p, "merchant_id"),
		BackEndMID:   rest.StringField(p, "back_end_mid"),
		Name:         rest.StringField(p, "dba"),
		ContactEmail: rest.StringField(p, "contact_email"),
		ContactPhone: rest.StringField(p, "contact_phone"),
		Raw:          p,
	}
	if m.ID == "" {
		m.ID = rest.StringField(p, "id")
	}
	if m.Name == "" {
		m.Name = rest.StringField(p, "name")
	}
	return m
}

func cacheKey(query string, page, pageSize int) string {
	return fmt.Sprintf("search:%s:%d:%d", strings.ToLower(query), page, pageSize)
}

func sanitize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

func orNA(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
