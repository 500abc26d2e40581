package verification

import (
	"context"
	"net/url"
	"strconv"

	"merchant-verify-client/internal/platform/config"
	"merchant-verify-client/internal/transport/rest"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// Caller is the request engine surface used by the history client.
type Caller interface {
	Call(ctx context.Context, req rest.Request) (*rest.Response, error)
}

// HistoryFilter narrows the remote history listing. Extra is passed through
// as query parameters.
type HistoryFilter struct {
	Limit      int
	Status     string
	Method     string
	MerchantID string
	Extra      map[string]string
}

// HistoryEntry is one row of the remote verification history.
type HistoryEntry struct {
	ID         string         `json:"id"`
	MerchantID string         `json:"merchant_id"`
	Method     string         `json:"method"`
	Status     string         `json:"status"`
	CreatedAt  string         `json:"created_at"`
	Raw        map[string]any `json:"raw"`
}

// History reads the operator's verification history from the server.
type History struct {
	caller Caller
}

func NewHistory(caller Caller) *History {
	return &History{caller: caller}
}

// Fetch lists history entries. The limit is capped at 100.
func (h *History) Fetch(ctx context.Context, f HistoryFilter) ([]HistoryEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	q := url.Values{}
	for k, v := range f.Extra {
		q.Set(k, v)
	}
	q.Set("limit", strconv.Itoa(limit))
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Method != "" {
		q.Set("method", f.Method)
	}
	if f.MerchantID != "" {
		q.Set("merchant_id", f.MerchantID)
	}

	resp, err := h.caller.Call(ctx, rest.Request{
		Method:        "GET",
		Target:        config.EndpointHistory,
		Authenticated: true,
		Query:         q,
	})
	if err != nil {
		return nil, err
	}

	rows := rest.ListField(resp.Payload, "results")
	out := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		m, ok := row.(map[string]any)
		if !ok {
			continue
		}
		e := HistoryEntry{
			ID:         rest.StringField(m, "id"),
			MerchantID: rest.StringField(m, "merchant_id"),
			Method:     rest.StringField(m, "method"),
			Status:     rest.StringField(m, "status"),
			CreatedAt:  rest.StringField(m, "created_at"),
			Raw:        m,
		}
		if e.Method == "" {
			e.Method = rest.StringField(m, "verification_method")
		}
		out = append(out, e)
	}
	return out, nil
}
