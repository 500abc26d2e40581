package verification

import (
	"net/http"
	"strconv"

	"merchant-verify-client/internal/platform/config"
	"merchant-verify-client/internal/transport/rest"
)

// Strategy supplies everything that differs between the email and SMS workflows.
type Strategy interface {
	Channel() Channel
	// ContactField names the contact in validation errors and payloads.
	ContactField() string
	ValidateContact(v *Validator, contact string) error
	SendRequest(target Target, operatorID string) rest.Request
	VerifyRequest(session Session, code, operatorID string) rest.Request
	// ServerID extracts the identifier the server assigned at send time.
	ServerID(payload map[string]any) string
}

// EmailStrategy delivers a PIN to the merchant's email address.
type EmailStrategy struct{}

func (EmailStrategy) Channel() Channel     { return ChannelEmail }
func (EmailStrategy) ContactField() string { return "email" }

func (EmailStrategy) ValidateContact(v *Validator, contact string) error {
	return v.Email(contact)
}

func (EmailStrategy) SendRequest(target Target, operatorID string) rest.Request {
	body := map[string]any{"email": target.Contact, "merchant_id": target.ID}
	if operatorID != "" {
		body["user_id"] = operatorValue(operatorID)
	}
	return rest.Request{Method: http.MethodPost, Authenticated: true, Target: config.EndpointSendEmail, Body: body}
}

func (EmailStrategy) VerifyRequest(session Session, code, operatorID string) rest.Request {
	body := map[string]any{"pin": code, "merchant_id": session.TargetID}
	if operatorID != "" {
		body["user_id"] = operatorValue(operatorID)
	}
	return rest.Request{Method: http.MethodPost, Authenticated: true, Target: config.EndpointVerifyPIN, Body: body}
}

func (EmailStrategy) ServerID(payload map[string]any) string {
	return rest.StringField(payload, "auth_id")
}

// SMSStrategy delivers a code to the merchant's phone.
type SMSStrategy struct{}

func (SMSStrategy) Channel() Channel     { return ChannelSMS }
func (SMSStrategy) ContactField() string { return "phone" }

func (SMSStrategy) ValidateContact(v *Validator, contact string) error {
	return v.Phone(contact)
}

func (SMSStrategy) SendRequest(target Target, _ string) rest.Request {
	return rest.Request{Method: http.MethodPost, Authenticated: true, Target: config.EndpointInitiateSMS, Body: map[string]any{
		"merchant_id":         target.ID,
		"verification_method": "sms",
		"delivery_address":    target.Contact,
	}}
}

func (SMSStrategy) VerifyRequest(session Session, code, _ string) rest.Request {
	return rest.Request{Method: http.MethodPost, Authenticated: true, Target: config.EndpointConfirmSMS, Body: map[string]any{
		"session_id":        session.ServerID,
		"verification_code": code,
	}}
}

func (SMSStrategy) ServerID(payload map[string]any) string {
	return rest.StringField(payload, "session_id")
}

// StrategyFor returns the strategy of a channel.
func StrategyFor(ch Channel) (Strategy, bool) {
	switch ch {
	case ChannelEmail:
		return EmailStrategy{}, true
	case ChannelSMS:
		return SMSStrategy{}, true
	}
	return nil, false
}

// operatorValue sends numeric operator ids as numbers.
func operatorValue(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}
