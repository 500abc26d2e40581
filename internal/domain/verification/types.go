package verification

import (
	stderrors "errors"
	"time"

	"merchant-verify-client/internal/transport/rest"
)

// State of one channel's workflow.
type State string

const (
	StateIdle           State = "IDLE"
	StateTargetSelected State = "TARGET_SELECTED"
	StateSending        State = "SENDING"
	StateAwaitingCode   State = "AWAITING_CODE"
	StateVerifying      State = "VERIFYING"
	StateComplete       State = "COMPLETE"
	StateFailed         State = "FAILED"
)

// Channel names the delivery medium of the code.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Op is the network operation a Ticket was issued for.
type Op string

const (
	OpSend   Op = "send"
	OpVerify Op = "verify"
)

// Outcome values recorded for a finished session.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

var (
	ErrInvalidTransition     = stderrors.New("invalid verification transition")
	ErrAttemptBudgetExceeded = stderrors.New("verification attempt budget exceeded")
)

// Ticket identifies a dispatched operation. A result whose ticket does not
// match the machine's current generation and state is stale and ignored.
type Ticket struct {
	Channel    Channel
	Op         Op
	Generation uint64
}

// Target is the merchant being verified and the contact to deliver the code to.
type Target struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Contact string `json:"contact"`
}

// Session is one in-flight verification attempt on one channel.
type Session struct {
	TargetID    string
	Contact     string
	Channel     Channel
	ServerID    string
	Attempts    int
	MaxAttempts int
	StartedAt   time.Time
}

// Result is published when a session ends, whatever the outcome.
type Result struct {
	Channel    Channel   `json:"channel"`
	TargetID   string    `json:"target_id"`
	Contact    string    `json:"contact"`
	ServerID   string    `json:"server_id,omitempty"`
	Outcome    string    `json:"outcome"`
	Attempts   int       `json:"attempts"`
	OperatorID string    `json:"operator_id,omitempty"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Command is an operation the owner must dispatch and feed back with Ticket.
type Command struct {
	Ticket  Ticket
	Request rest.Request
}

// Snapshot is a read-only, masked view of a machine for display.
type Snapshot struct {
	Channel      Channel `json:"channel"`
	State        State   `json:"state"`
	Target       *Target `json:"target,omitempty"`
	ServerID     string  `json:"server_id,omitempty"`
	Attempts     int     `json:"attempts"`
	MaxAttempts  int     `json:"max_attempts"`
	EnteredCode  int     `json:"entered_digits"`
	CodeLength   int     `json:"code_length"`
	LastMessage  string  `json:"last_message,omitempty"`
	StartedAt    string  `json:"started_at,omitempty"`
	AttemptsLeft int     `json:"attempts_left"`
}
