package rest

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"merchant-verify-client/internal/platform/errors"
)

// decodePayload normalises a response body into an object. Arrays are
// wrapped under "results"; anything that is not JSON becomes {"message": text}.
func decodePayload(raw []byte) map[string]any {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return map[string]any{}
	}
	var v any
	if err := sonic.UnmarshalString(trimmed, &v); err != nil {
		return map[string]any{"message": trimmed}
	}
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		return map[string]any{"results": t}
	default:
		return map[string]any{"message": trimmed}
	}
}

// httpError builds the Server (or Unauthenticated for 401) error for a non-2xx response.
func httpError(op string, status int, payload map[string]any) *errors.Error {
	kind := errors.KindServer
	if status == 401 {
		kind = errors.KindUnauthenticated
	}
	msg := ExtractMessage(payload)
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", status)
	}
	return errors.New(kind, op, msg).WithStatus(status, StringField(payload, "code"))
}

// ExtractMessage picks the best human readable message from an error body.
func ExtractMessage(payload map[string]any) string {
	for _, key := range []string{"detail", "error", "message"} {
		if s := StringField(payload, key); s != "" {
			return s
		}
	}
	// field errors: {"email": ["Enter a valid email address."]}
	if list, ok := payload["non_field_errors"].([]any); ok && len(list) > 0 {
		if s, ok := list[0].(string); ok {
			return s
		}
	}
	return ""
}

// StringField returns payload[key] as a string, formatting numbers and ignoring other types.
func StringField(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case int:
		return fmt.Sprintf("%d", v)
	}
	return ""
}

// MapField returns payload[key] when it is an object.
func MapField(payload map[string]any, key string) map[string]any {
	if m, ok := payload[key].(map[string]any); ok {
		return m
	}
	return nil
}

// ListField returns payload[key] when it is an array.
func ListField(payload map[string]any, key string) []any {
	if l, ok := payload[key].([]any); ok {
		return l
	}
	return nil
}
