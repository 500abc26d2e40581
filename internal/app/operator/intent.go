package operator

import (
	"merchant-verify-client/internal/domain/auth"
	"merchant-verify-client/internal/domain/eventbus"
	"merchant-verify-client/internal/domain/task"
	"merchant-verify-client/internal/domain/verification"
	"merchant-verify-client/internal/transport/ws"
)

// IntentKind 操作员意图类型
type IntentKind string

const (
	IntentLogin        IntentKind = "login"
	IntentLogout       IntentKind = "logout"
	IntentSelectTarget IntentKind = "select_target"
	IntentClearTarget  IntentKind = "clear_target"
	IntentSend         IntentKind = "send"
	IntentEnterCode    IntentKind = "enter_code"
	IntentBackspace    IntentKind = "backspace"
	IntentSubmit       IntentKind = "submit"
	IntentCancel       IntentKind = "cancel"
	IntentSnapshot     IntentKind = "snapshot"
	IntentFetch        IntentKind = "fetch"
)

// Intent 是外部（控制台 API）投递给所有者循环的请求
type Intent struct {
	Kind    IntentKind
	Channel verification.Channel

	Target verification.Target
	Digits string

	Username string
	Password string
	Remember bool

	// Name and Fetch describe a read-only lookup run on the worker pool.
	// Its value comes back in Reply.Data.
	Name  string
	Fetch task.Func

	reply chan Reply
}

// Reply 是所有者循环对意图的应答
type Reply struct {
	View View  `json:"view"`
	Data any   `json:"data,omitempty"`
	Err  error `json:"-"`
	// Message is the translated error text shown to the operator.
	Message string `json:"message,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// View 是会话的只读快照
type View struct {
	Authenticated     bool                   `json:"authenticated"`
	User              *auth.User             `json:"user,omitempty"`
	Realtime          ws.Phase               `json:"realtime"`
	ReconnectAttempts int                    `json:"reconnect_attempts"`
	Status            eventbus.StatusPayload `json:"status"`
	Email             verification.Snapshot  `json:"email"`
	SMS               verification.Snapshot  `json:"sms"`
	Tasks             task.Stats             `json:"tasks"`
}

type pendingKind int

const (
	pendingLogin pendingKind = iota
	pendingLogout
	pendingSend
	pendingVerify
	pendingFetch
)

// pendingTask 记录已派发任务的回复通道
type pendingTask struct {
	kind   pendingKind
	ticket verification.Ticket
	reply  chan Reply
}
