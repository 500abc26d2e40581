package eventbus

// Topics published inside the client.
const (
	// token lifecycle
	TopicTokenRefreshed = "auth:token_refreshed"
	TopicLogout         = "auth:logout"
	TopicSessionExpired = "auth:session_expired"
	TopicLoginSucceeded = "auth:login"

	// realtime channel
	TopicRealtimeConnected    = "realtime:connected"
	TopicRealtimeDisconnected = "realtime:disconnected"
	TopicRealtimeMessage      = "realtime:message"
	TopicRealtimeError        = "realtime:error"
	TopicRealtimeTerminal     = "realtime:terminal"

	// verification workflow
	TopicVerificationCompleted = "verification:completed"
	TopicVerificationCleared   = "verification:cleared"
	TopicVerificationFailed    = "verification:failed"
	TopicVerificationCancelled = "verification:cancelled"
	TopicVerificationCodeSent  = "verification:code_sent"

	TopicStatus = "status:changed"
)

// LogoutPayload accompanies TopicLogout.
type LogoutPayload struct {
	Reason string `json:"reason"`
}

// StatusPayload is a one-line status update for the operator.
type StatusPayload struct {
	Text  string `json:"text"`
	Level string `json:"level"`
}
