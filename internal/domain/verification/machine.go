package verification

import (
	"fmt"
	"strings"
	"time"

	"merchant-verify-client/internal/domain/eventbus"
	"merchant-verify-client/internal/platform/errors"
	"merchant-verify-client/internal/transport/ws"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type Config struct {
	MaxAttempts int
}

// Machine is the workflow of one channel. It is not safe for concurrent use:
// a single owner goroutine drives it and dispatches the Commands it returns.
type Machine struct {
	strategy Strategy
	validate *Validator
	bus      *eventbus.Bus
	logger   Logger
	now      func() time.Time
	describe func(error) string

	maxAttempts int
	state       State
	target      *Target
	session     *Session
	code        []byte
	gen         uint64
	// finished is set once the session's Result has been published.
	finished    bool
	lastMessage string
	operatorID  string
}

// Options carries the collaborators of a Machine.
type Options struct {
	Strategy  Strategy
	Validator *Validator
	Bus       *eventbus.Bus
	Logger    Logger
	Config    Config
	Now       func() time.Time
	// Describe turns a failure into operator-facing text for the snapshot.
	Describe func(error) string
}

func NewMachine(opts Options) *Machine {
	if opts.Config.MaxAttempts <= 0 {
		opts.Config.MaxAttempts = 5
	}
	if opts.Validator == nil {
		opts.Validator = NewValidator(0, 0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Describe == nil {
		opts.Describe = describeCode
	}
	return &Machine{
		strategy:    opts.Strategy,
		validate:    opts.Validator,
		bus:         opts.Bus,
		logger:      opts.Logger,
		now:         opts.Now,
		describe:    opts.Describe,
		maxAttempts: opts.Config.MaxAttempts,
		state:       StateIdle,
	}
}

func (m *Machine) Channel() Channel { return m.strategy.Channel() }
func (m *Machine) State() State     { return m.state }

// SetOperator records the logged-in operator id sent with requests.
func (m *Machine) SetOperator(id string) {
	m.operatorID = id
}

// Session returns a copy of the in-flight session.
func (m *Machine) Session() (Session, bool) {
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// SelectTarget validates and adopts a new target. Any session in progress
// on this channel is abandoned.
func (m *Machine) SelectTarget(t Target) error {
	t.ID = Sanitize(t.ID)
	t.Contact = Sanitize(t.Contact)
	t.Name = Sanitize(t.Name)
	if err := m.validate.TargetID(t.ID); err != nil {
		return err
	}
	if err := m.strategy.ValidateContact(m.validate, t.Contact); err != nil {
		return err
	}
	if m.session != nil {
		m.finish(OutcomeCancelled, "target changed")
	}
	m.gen++
	m.target = &t
	m.session = nil
	m.code = m.code[:0]
	m.state = StateTargetSelected
	m.lastMessage = ""
	m.debug("target selected: %s", t.ID)
	return nil
}

// ClearTarget drops the target and returns to IDLE.
func (m *Machine) ClearTarget() {
	if m.session != nil {
		m.finish(OutcomeCancelled, "target cleared")
	}
	m.gen++
	m.reset()
}

// BeginSend starts a new session. Sending again from AWAITING_CODE or FAILED
// abandons the previous session.
func (m *Machine) BeginSend() (Command, error) {
	const op = "verification.send"
	switch m.state {
	case StateTargetSelected, StateAwaitingCode, StateFailed:
	default:
		return Command{}, m.invalidTransition(op, "send")
	}
	if m.target == nil {
		return Command{}, errors.New(errors.KindValidation, op, "no merchant selected").WithCode(errors.CodeRequiredField)
	}
	if err := m.validate.TargetID(m.target.ID); err != nil {
		return Command{}, err
	}
	if err := m.strategy.ValidateContact(m.validate, m.target.Contact); err != nil {
		return Command{}, err
	}
	if m.session != nil {
		m.finish(OutcomeCancelled, "resent")
	}

	m.gen++
	m.finished = false
	m.session = &Session{
		TargetID:    m.target.ID,
		Contact:     m.target.Contact,
		Channel:     m.strategy.Channel(),
		MaxAttempts: m.maxAttempts,
		StartedAt:   m.now(),
	}
	m.code = m.code[:0]
	m.state = StateSending
	m.info("sending code to %s", MaskContact(m.Channel(), m.target.Contact))
	return Command{
		Ticket:  Ticket{Channel: m.Channel(), Op: OpSend, Generation: m.gen},
		Request: m.strategy.SendRequest(*m.target, m.operatorID),
	}, nil
}

// ApplySendResult feeds back the outcome of a send Command. Stale tickets
// are ignored and reported with applied=false.
func (m *Machine) ApplySendResult(t Ticket, payload map[string]any, callErr error) (applied bool, err error) {
	if !m.current(t, OpSend, StateSending) {
		return false, nil
	}
	if callErr != nil {
		// send failures do not consume attempts
		m.session = nil
		m.state = StateTargetSelected
		m.lastMessage = m.describe(callErr)
		m.warn("send failed: %v", callErr)
		return true, callErr
	}
	serverID := m.strategy.ServerID(payload)
	if serverID == "" {
		m.session = nil
		m.state = StateTargetSelected
		perr := errors.New(errors.KindProtocol, "verification.send", "response did not include a verification id")
		m.lastMessage = m.describe(perr)
		return true, perr
	}
	m.session.ServerID = serverID
	m.state = StateAwaitingCode
	m.lastMessage = messageOf(payload)
	m.info("code sent, id %s", ShortID(serverID))
	m.publish(eventbus.TopicVerificationCodeSent, m.snapshotResult(""))
	return true, nil
}

// EnterCode appends digits to the code being typed. Once the required length
// is reached the code is submitted and the verify Command returned.
func (m *Machine) EnterCode(digits string) (*Command, error) {
	const op = "verification.enter_code"
	if m.state != StateAwaitingCode {
		return nil, m.invalidTransition(op, "enter code")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, errors.New(errors.KindValidation, op, "code may only contain digits").WithCode(errors.CodeInvalidCode)
		}
	}
	need := m.validate.CodeLength() - len(m.code)
	if len(digits) > need {
		digits = digits[:need]
	}
	m.code = append(m.code, digits...)
	if len(m.code) < m.validate.CodeLength() {
		return nil, nil
	}
	cmd, err := m.Submit()
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

// Backspace removes the last entered digit.
func (m *Machine) Backspace() {
	if len(m.code) > 0 {
		m.code = m.code[:len(m.code)-1]
	}
}

// EnteredCode returns the digits typed so far.
func (m *Machine) EnteredCode() string {
	return string(m.code)
}

// Submit verifies the entered code. The attempt is charged before the
// request is dispatched.
func (m *Machine) Submit() (Command, error) {
	const op = "verification.submit"
	spent := m.session != nil && m.session.Attempts >= m.maxAttempts
	if spent && (m.state == StateAwaitingCode || m.state == StateFailed) {
		m.state = StateFailed
		return Command{}, errors.Wrap(errors.KindAttemptBudget, op, "maximum verification attempts exceeded", ErrAttemptBudgetExceeded).
			WithCode(errors.CodeMaxAttempts)
	}
	if m.state != StateAwaitingCode || m.session == nil {
		return Command{}, m.invalidTransition(op, "submit")
	}
	code := string(m.code)
	if err := m.validate.Code(code); err != nil {
		return Command{}, err
	}

	m.session.Attempts++
	m.state = StateVerifying
	m.debug("verifying attempt %d/%d", m.session.Attempts, m.maxAttempts)
	return Command{
		Ticket:  Ticket{Channel: m.Channel(), Op: OpVerify, Generation: m.gen},
		Request: m.strategy.VerifyRequest(*m.session, code, m.operatorID),
	}, nil
}

// ApplyVerifyResult feeds back the outcome of a verify Command.
func (m *Machine) ApplyVerifyResult(t Ticket, payload map[string]any, callErr error) (applied bool, err error) {
	if !m.current(t, OpVerify, StateVerifying) {
		return false, nil
	}
	if callErr == nil {
		if id := m.strategy.ServerID(payload); id != "" && m.session.ServerID == "" {
			m.session.ServerID = id
		}
		m.complete(messageOf(payload))
		return true, nil
	}

	m.code = m.code[:0]
	if m.session.Attempts >= m.maxAttempts {
		// a fresh error so the rejection itself keeps its kind and code
		budget := &errors.Error{
			Kind:    errors.KindAttemptBudget,
			Op:      "verification.verify",
			Message: "maximum verification attempts exceeded",
			Code:    errors.CodeMaxAttempts,
			Cause:   callErr,
		}
		m.fail(m.describe(budget))
		return true, budget
	}
	m.lastMessage = m.describe(callErr)
	m.state = StateAwaitingCode
	m.warn("verification rejected, %d attempts left: %v", m.maxAttempts-m.session.Attempts, callErr)
	return true, callErr
}

// HandleRealtime applies a pushed status update that references the current
// server id. It reports whether the message changed the state.
func (m *Machine) HandleRealtime(msg ws.Message) bool {
	if m.session == nil || (m.state != StateAwaitingCode && m.state != StateVerifying) {
		return false
	}
	if !msg.IsVerificationUpdate() || !msg.References(m.session.ServerID) {
		return false
	}
	switch {
	case msg.IsSuccess():
		m.gen++
		m.complete("verified via realtime update")
		return true
	case msg.IsFailure():
		m.gen++
		m.fail("verification " + msg.Status)
		return true
	}
	return false
}

// Cancel abandons the current session. In-flight results become stale.
func (m *Machine) Cancel() error {
	if m.state == StateIdle {
		return m.invalidTransition("verification.cancel", "cancel")
	}
	if m.session != nil {
		m.finish(OutcomeCancelled, "cancelled by operator")
	}
	m.gen++
	m.session = nil
	m.code = m.code[:0]
	m.lastMessage = "cancelled"
	if m.target != nil {
		m.state = StateTargetSelected
	} else {
		m.state = StateIdle
	}
	return nil
}

// Snapshot returns a masked view for display.
func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		Channel:     m.Channel(),
		State:       m.state,
		MaxAttempts: m.maxAttempts,
		EnteredCode: len(m.code),
		CodeLength:  m.validate.CodeLength(),
		LastMessage: m.lastMessage,
	}
	if m.target != nil {
		t := *m.target
		t.Contact = MaskContact(m.Channel(), t.Contact)
		s.Target = &t
	}
	if m.session != nil {
		s.ServerID = ShortID(m.session.ServerID)
		s.Attempts = m.session.Attempts
		s.StartedAt = m.session.StartedAt.Format(time.RFC3339)
	}
	s.AttemptsLeft = s.MaxAttempts - s.Attempts
	return s
}

func (m *Machine) complete(message string) {
	m.state = StateComplete
	m.lastMessage = message
	m.info("verification complete, id %s", ShortID(m.session.ServerID))
	m.finish(OutcomeCompleted, message)
	m.publish(eventbus.TopicVerificationCleared, m.Channel())
	// a completed target is not kept; the next merchant can be selected at once
	m.reset()
}

func (m *Machine) fail(message string) {
	m.state = StateFailed
	m.lastMessage = message
	m.warn("verification failed: %s", message)
	m.finish(OutcomeFailed, message)
}

// finish publishes the Result of the current session. The session itself is
// kept so FAILED can still be inspected.
func (m *Machine) finish(outcome, message string) {
	if m.session == nil || m.finished {
		return
	}
	m.finished = true
	r := m.snapshotResult(message)
	r.Outcome = outcome
	r.FinishedAt = m.now()
	switch outcome {
	case OutcomeCompleted:
		m.publish(eventbus.TopicVerificationCompleted, r)
	case OutcomeFailed:
		m.publish(eventbus.TopicVerificationFailed, r)
	default:
		m.publish(eventbus.TopicVerificationCancelled, r)
	}
}

func (m *Machine) snapshotResult(message string) Result {
	r := Result{Channel: m.Channel(), OperatorID: m.operatorID, Message: message}
	if m.session != nil {
		r.TargetID = m.session.TargetID
		r.Contact = m.session.Contact
		r.ServerID = m.session.ServerID
		r.Attempts = m.session.Attempts
		r.StartedAt = m.session.StartedAt
	}
	return r
}

// describeCode reports the error code, or the kind when no code is set, so
// raw transport text never reaches a snapshot.
func describeCode(err error) string {
	if code := errors.CodeOf(err); code != "" {
		return code
	}
	return string(errors.KindOf(err))
}

func (m *Machine) reset() {
	m.state = StateIdle
	m.target = nil
	m.session = nil
	m.code = m.code[:0]
}

func (m *Machine) current(t Ticket, op Op, want State) bool {
	if t.Channel != m.Channel() || t.Op != op || t.Generation != m.gen || m.state != want {
		m.debug("ignoring stale %s result (gen %d, current %d, state %s)", t.Op, t.Generation, m.gen, m.state)
		return false
	}
	return true
}

func (m *Machine) invalidTransition(op, action string) error {
	return errors.Wrap(errors.KindValidation, op,
		fmt.Sprintf("cannot %s while %s", action, strings.ToLower(string(m.state))), ErrInvalidTransition).
		WithCode(errors.CodeInvalidState)
}

func (m *Machine) publish(topic string, payload any) {
	if m.bus != nil {
		m.bus.Publish(topic, payload)
	}
}

func (m *Machine) debug(format string, args ...any) {
	if m.logger != nil {
		m.logger.Debug("[验证] "+string(m.Channel())+": "+format, args...)
	}
}

func (m *Machine) info(format string, args ...any) {
	if m.logger != nil {
		m.logger.Info("[验证] "+string(m.Channel())+": "+format, args...)
	}
}

func (m *Machine) warn(format string, args ...any) {
	if m.logger != nil {
		m.logger.Warn("[验证] "+string(m.Channel())+": "+format, args...)
	}
}

func messageOf(payload map[string]any) string {
	if s, ok := payload["message"].(string); ok {
		return s
	}
	return ""
}
