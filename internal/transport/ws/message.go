package ws

import (
	"github.com/bytedance/sonic"

	"merchant-verify-client/internal/platform/errors"
)

// Message types pushed by the verification backend.
const (
	TypeConnectionEstablished = "connection_established"
	TypeVerificationStatus    = "verification.status"
	TypeAuthUpdate            = "auth_update"
	TypeCustomerUpdate        = "customer_verification_update"
	TypeVerificationUpdate    = "verification_update"
)

// Message is a decoded inbound frame. Raw keeps every field as received.
type Message struct {
	Type      string         `json:"type"`
	Status    string         `json:"status,omitempty"`
	AuthID    string         `json:"auth_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Raw       map[string]any `json:"-"`
}

// DecodeMessage parses a text frame. Anything that is not a JSON object is a
// Protocol error.
func DecodeMessage(data []byte) (Message, error) {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return Message{}, errors.Wrap(errors.KindProtocol, "ws.decode", "malformed realtime frame", err).
			WithCode(errors.CodeWebsocketError)
	}
	if raw == nil {
		return Message{}, errors.New(errors.KindProtocol, "ws.decode", "realtime frame is not an object").
			WithCode(errors.CodeWebsocketError)
	}
	msg := Message{Raw: raw}
	msg.Type, _ = raw["type"].(string)
	msg.Status, _ = raw["status"].(string)
	msg.AuthID = idField(raw, "auth_id")
	msg.SessionID = idField(raw, "session_id")
	return msg, nil
}

// IsVerificationUpdate reports whether the frame carries a verification status push.
func (m Message) IsVerificationUpdate() bool {
	switch m.Type {
	case TypeVerificationStatus, TypeAuthUpdate, TypeCustomerUpdate, TypeVerificationUpdate:
		return true
	}
	return false
}

func (m Message) IsSuccess() bool {
	switch m.Status {
	case "verified", "completed", "success":
		return true
	}
	return false
}

func (m Message) IsFailure() bool {
	return m.Status == "failed" || m.Status == "expired"
}

// References reports whether the frame names serverID as its auth or session id.
func (m Message) References(serverID string) bool {
	if serverID == "" {
		return false
	}
	return m.AuthID == serverID || m.SessionID == serverID
}

func idField(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		b, _ := sonic.Marshal(v)
		return string(b)
	}
	return ""
}
