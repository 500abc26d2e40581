package operator

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"merchant-verify-client/internal/domain/auth"
	"merchant-verify-client/internal/domain/eventbus"
	"merchant-verify-client/internal/domain/task"
	"merchant-verify-client/internal/domain/verification"
	"merchant-verify-client/internal/platform/config"
	"merchant-verify-client/internal/platform/errors"
	"merchant-verify-client/internal/platform/i18n"
	"merchant-verify-client/internal/transport/rest"
	"merchant-verify-client/internal/transport/ws"
)

// ErrStopped is returned by Do once the owner loop has exited.
var ErrStopped = stderrors.New("operator loop stopped")

const (
	intentBuffer = 16
	inboxBuffer  = 64
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Auth is the token lifecycle surface the owner loop drives.
type Auth interface {
	Login(ctx context.Context, username, password string, remember bool) (auth.User, error)
	Logout(ctx context.Context) error
	EnsureFresh(ctx context.Context) error
	Tokens() auth.TokenStore
}

// Realtime is the push channel surface the owner loop drives.
type Realtime interface {
	ConnectUser(userID, credential string)
	DisconnectUser()
	UpdateCredential(credential string)
	Phase() ws.Phase
	ReconnectAttempts() int
}

type Caller interface {
	Call(ctx context.Context, req rest.Request) (*rest.Response, error)
}

// Options 所有者循环的依赖
type Options struct {
	Auth         Auth
	Caller       Caller
	Realtime     Realtime
	Dispatcher   *task.Dispatcher
	Bus          *eventbus.Bus
	Translator   *i18n.Translator
	Logger       Logger
	Verification config.VerificationConfig
}

// Operator 是唯一修改会话与验证状态的 goroutine。
// 外部只能通过 Do 投递意图，网络调用在任务池中执行，结果经由消息通道回到这里。
type Operator struct {
	auth       Auth
	caller     Caller
	realtime   Realtime
	dispatcher *task.Dispatcher
	bus        *eventbus.Bus
	translator *i18n.Translator
	logger     Logger

	intents chan Intent
	inbox   chan ws.Message
	events  chan eventbus.Event
	done    chan struct{}
	once    sync.Once
	subs    []*eventbus.Subscription

	// owned by the loop goroutine
	machines map[verification.Channel]*verification.Machine
	pending  map[uuid.UUID]pendingTask
	user     *auth.User
	status   eventbus.StatusPayload
}

// New 创建所有者循环
func New(opts Options) (*Operator, error) {
	switch {
	case opts.Auth == nil:
		return nil, errors.New(errors.KindBootstrap, "operator.new", "auth manager is required")
	case opts.Caller == nil:
		return nil, errors.New(errors.KindBootstrap, "operator.new", "request engine is required")
	case opts.Dispatcher == nil:
		return nil, errors.New(errors.KindBootstrap, "operator.new", "dispatcher is required")
	case opts.Bus == nil:
		return nil, errors.New(errors.KindBootstrap, "operator.new", "event bus is required")
	case opts.Translator == nil:
		return nil, errors.New(errors.KindBootstrap, "operator.new", "translator is required")
	case opts.Logger == nil:
		return nil, errors.New(errors.KindBootstrap, "operator.new", "logger is required")
	}

	validator := verification.NewValidator(opts.Verification.CodeLength, opts.Verification.MaxTargetIDChars)
	machines := make(map[verification.Channel]*verification.Machine, 2)
	for _, s := range []verification.Strategy{verification.EmailStrategy{}, verification.SMSStrategy{}} {
		machines[s.Channel()] = verification.NewMachine(verification.Options{
			Strategy:  s,
			Validator: validator,
			Bus:       opts.Bus,
			Logger:    opts.Logger,
			Config:    verification.Config{MaxAttempts: opts.Verification.MaxAttempts},
			Describe:  opts.Translator.Translate,
		})
	}

	return &Operator{
		auth:       opts.Auth,
		caller:     opts.Caller,
		realtime:   opts.Realtime,
		dispatcher: opts.Dispatcher,
		bus:        opts.Bus,
		translator: opts.Translator,
		logger:     opts.Logger,
		intents:    make(chan Intent, intentBuffer),
		inbox:      make(chan ws.Message, inboxBuffer),
		events:     make(chan eventbus.Event, inboxBuffer),
		done:       make(chan struct{}),
		machines:   machines,
		pending:    make(map[uuid.UUID]pendingTask),
		status:     eventbus.StatusPayload{Text: "Not logged in", Level: "info"},
	}, nil
}

// Do 投递意图并等待应答
func (o *Operator) Do(ctx context.Context, in Intent) (Reply, error) {
	in.reply = make(chan Reply, 1)
	select {
	case o.intents <- in:
	case <-o.done:
		return Reply{}, ErrStopped
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
	select {
	case r := <-in.reply:
		return r, nil
	case <-o.done:
		return Reply{}, ErrStopped
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Run 运行所有者循环，直到 ctx 结束或任务池关闭
func (o *Operator) Run(ctx context.Context) error {
	o.subscribe()
	defer o.stop()

	o.logger.Info("[任务] operator loop started")
	messages := o.dispatcher.Messages()
	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-o.intents:
			o.handleIntent(in)
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			o.handleTask(msg)
		case m := <-o.inbox:
			o.handleRealtime(m)
		case e := <-o.events:
			o.handleEvent(e)
		}
	}
}

func (o *Operator) stop() {
	o.once.Do(func() {
		for _, s := range o.subs {
			s.Cancel()
		}
		o.subs = nil
		if o.realtime != nil {
			o.realtime.DisconnectUser()
		}
		close(o.done)
		o.logger.Info("[任务] operator loop stopped")
	})
}

// subscribe forwards bus events into the loop. Handlers run under the bus
// lock, so they only hand the event over and never block.
func (o *Operator) subscribe() {
	o.subs = append(o.subs, o.bus.Subscribe(eventbus.TopicRealtimeMessage, func(e eventbus.Event) {
		msg, ok := e.Payload.(ws.Message)
		if !ok {
			return
		}
		select {
		case o.inbox <- msg:
		default:
			o.logger.Warn("[WebSocket] operator inbox full, dropping %s", msg.Type)
		}
	}))
	for _, topic := range []string{
		eventbus.TopicLogout,
		eventbus.TopicSessionExpired,
		eventbus.TopicTokenRefreshed,
		eventbus.TopicRealtimeConnected,
		eventbus.TopicRealtimeDisconnected,
		eventbus.TopicRealtimeTerminal,
	} {
		o.subs = append(o.subs, o.bus.Subscribe(topic, func(e eventbus.Event) {
			select {
			case o.events <- e:
			default:
				o.logger.Warn("[事件] operator event queue full, dropping %s", e.Topic)
			}
		}))
	}
}

func (o *Operator) handleIntent(in Intent) {
	switch in.Kind {
	case IntentSnapshot:
		o.reply(in.reply, nil, nil)
	case IntentLogin:
		username, password, remember := in.Username, in.Password, in.Remember
		o.dispatch("login", pendingTask{kind: pendingLogin, reply: in.reply}, func(ctx context.Context) (any, error) {
			return o.auth.Login(ctx, username, password, remember)
		})
	case IntentLogout:
		o.dispatch("logout", pendingTask{kind: pendingLogout, reply: in.reply}, func(ctx context.Context) (any, error) {
			return nil, o.auth.Logout(ctx)
		})
	case IntentFetch:
		if in.Fetch == nil {
			o.reply(in.reply, nil, errors.New(errors.KindValidation, "operator.fetch", "nothing to fetch"))
			return
		}
		o.dispatch(in.Name, pendingTask{kind: pendingFetch, reply: in.reply}, in.Fetch)
	default:
		o.handleWorkflow(in)
	}
}

// handleWorkflow applies an intent addressed to one verification channel.
func (o *Operator) handleWorkflow(in Intent) {
	m, ok := o.machines[in.Channel]
	if !ok {
		o.reply(in.reply, nil, errors.New(errors.KindValidation, "operator."+string(in.Kind),
			fmt.Sprintf("unknown verification channel %q", in.Channel)).WithCode(errors.CodeValidationFailed))
		return
	}
	if in.Kind != IntentClearTarget && in.Kind != IntentCancel && o.user == nil {
		o.reply(in.reply, nil, errors.New(errors.KindUnauthenticated, "operator."+string(in.Kind), "not logged in").
			WithCode(errors.CodeTokenExpired))
		return
	}

	var (
		cmd *verification.Command
		err error
	)
	switch in.Kind {
	case IntentSelectTarget:
		err = m.SelectTarget(in.Target)
	case IntentClearTarget:
		m.ClearTarget()
	case IntentSend:
		var c verification.Command
		if c, err = m.BeginSend(); err == nil {
			cmd = &c
		}
	case IntentEnterCode:
		cmd, err = m.EnterCode(in.Digits)
	case IntentBackspace:
		m.Backspace()
	case IntentSubmit:
		var c verification.Command
		if c, err = m.Submit(); err == nil {
			cmd = &c
		}
	case IntentCancel:
		err = m.Cancel()
		if err == nil {
			o.setStatus("Verification cancelled", "info")
		}
	default:
		err = errors.New(errors.KindValidation, "operator.intent", fmt.Sprintf("unknown intent %q", in.Kind))
	}

	if err != nil || cmd == nil {
		o.reply(in.reply, nil, err)
		return
	}

	kind := pendingSend
	if cmd.Ticket.Op == verification.OpVerify {
		kind = pendingVerify
		o.setStatus(fmt.Sprintf("Verifying %s code...", cmd.Ticket.Channel), "info")
	} else {
		o.setStatus(fmt.Sprintf("Sending %s code...", cmd.Ticket.Channel), "info")
	}
	o.dispatch(string(cmd.Ticket.Channel)+"."+string(cmd.Ticket.Op),
		pendingTask{kind: kind, ticket: cmd.Ticket, reply: in.reply}, o.callFunc(cmd.Request))
}

func (o *Operator) callFunc(req rest.Request) task.Func {
	return func(ctx context.Context) (any, error) {
		if req.Authenticated {
			if err := o.auth.EnsureFresh(ctx); err != nil {
				return nil, err
			}
		}
		resp, err := o.caller.Call(ctx, req)
		if err != nil {
			return nil, err
		}
		return resp.Payload, nil
	}
}

func (o *Operator) dispatch(name string, p pendingTask, fn task.Func) {
	id, err := o.dispatcher.Dispatch(name, p.ticket, fn)
	if err != nil {
		err = errors.Wrap(errors.KindRequest, "operator.dispatch", "could not schedule "+name, err).WithCode(errors.CodeBusy)
		// the machine is waiting for a result that will never come
		if p.kind == pendingSend || p.kind == pendingVerify {
			o.abandon(p.ticket)
		}
		o.reply(p.reply, nil, err)
		return
	}
	o.pending[id] = p
}

// abandon returns a machine whose command could not be scheduled to a
// state the operator can act on.
func (o *Operator) abandon(t verification.Ticket) {
	if m, ok := o.machines[t.Channel]; ok {
		if err := m.Cancel(); err != nil {
			o.logger.Debug("[任务] abandon %s: %v", t.Channel, err)
		}
	}
}

func (o *Operator) handleTask(msg task.Message) {
	if msg.Kind == task.MessageDone {
		return
	}
	p, ok := o.pending[msg.TaskID]
	if !ok {
		o.logger.Debug("[任务] outcome for unknown task %s", msg.TaskID)
		return
	}
	delete(o.pending, msg.TaskID)

	switch p.kind {
	case pendingLogin:
		o.finishLogin(p, msg)
	case pendingLogout:
		if msg.Err != nil {
			o.setStatus(o.translator.Translate(msg.Err), "error")
		} else if o.user != nil {
			// the logout event may still be queued; reply with the final view
			o.endSession(auth.ReasonLogout)
		}
		o.reply(p.reply, nil, msg.Err)
	case pendingSend:
		o.finishSend(p, msg)
	case pendingVerify:
		o.finishVerify(p, msg)
	case pendingFetch:
		o.reply(p.reply, msg.Result, msg.Err)
	}
}

func (o *Operator) finishLogin(p pendingTask, msg task.Message) {
	if msg.Err != nil {
		o.setStatus(o.translator.Translate(msg.Err), "error")
		o.reply(p.reply, nil, msg.Err)
		return
	}
	user, _ := msg.Result.(auth.User)
	o.user = &user
	for _, m := range o.machines {
		m.SetOperator(user.ID)
	}
	if o.realtime != nil && user.ID != "" {
		o.realtime.ConnectUser(user.ID, o.auth.Tokens().AccessToken())
	}
	o.setStatus("Logged in as "+user.DisplayName(), "success")
	o.reply(p.reply, nil, nil)
}

func (o *Operator) finishSend(p pendingTask, msg task.Message) {
	m := o.machines[p.ticket.Channel]
	payload, _ := msg.Result.(map[string]any)
	applied, err := m.ApplySendResult(p.ticket, payload, msg.Err)
	if applied {
		if err != nil {
			o.setStatus(o.translator.Translate(err), "error")
		} else {
			o.setStatus(fmt.Sprintf("Code sent via %s", p.ticket.Channel), "success")
		}
	}
	o.reply(p.reply, nil, err)
}

func (o *Operator) finishVerify(p pendingTask, msg task.Message) {
	m := o.machines[p.ticket.Channel]
	payload, _ := msg.Result.(map[string]any)
	applied, err := m.ApplyVerifyResult(p.ticket, payload, msg.Err)
	if applied {
		switch {
		case err == nil:
			o.setStatus("Verification complete", "success")
		case m.State() == verification.StateFailed:
			o.setStatus(o.translator.Text(errors.CodeMaxAttempts), "error")
		default:
			o.setStatus(o.translator.Translate(err), "warning")
		}
	}
	o.reply(p.reply, nil, err)
}

func (o *Operator) handleRealtime(msg ws.Message) {
	if msg.Type == ws.TypeConnectionEstablished {
		o.logger.Debug("[WebSocket] server acknowledged connection")
		return
	}
	for ch, m := range o.machines {
		if !m.HandleRealtime(msg) {
			continue
		}
		if msg.IsSuccess() {
			o.setStatus(fmt.Sprintf("%s verification confirmed", ch), "success")
		} else {
			o.setStatus(fmt.Sprintf("%s verification %s", ch, msg.Status), "error")
		}
	}
}

func (o *Operator) handleEvent(e eventbus.Event) {
	switch e.Topic {
	case eventbus.TopicLogout:
		reason := ""
		if p, ok := e.Payload.(eventbus.LogoutPayload); ok {
			reason = p.Reason
		}
		o.endSession(reason)
	case eventbus.TopicSessionExpired:
		o.setStatus(o.translator.Text(errors.CodeTokenExpired), "warning")
	case eventbus.TopicTokenRefreshed:
		if token, ok := e.Payload.(string); ok && o.realtime != nil && o.user != nil {
			o.realtime.UpdateCredential(token)
		}
	case eventbus.TopicRealtimeConnected:
		o.setStatus("Realtime updates connected", "success")
	case eventbus.TopicRealtimeDisconnected:
		if d, ok := e.Payload.(ws.DisconnectedEvent); ok && d.Scheduled {
			o.setStatus(fmt.Sprintf("%s (%d)", o.translator.Text("websocket_closed"), d.Attempt), "warning")
		}
	case eventbus.TopicRealtimeTerminal:
		o.setStatus(o.translator.Text(errors.CodeWebsocketLost), "error")
	}
}

// endSession resets both workflows after the tokens were cleared.
func (o *Operator) endSession(reason string) {
	for _, m := range o.machines {
		m.ClearTarget()
		m.SetOperator("")
	}
	o.user = nil
	if o.realtime != nil {
		o.realtime.DisconnectUser()
	}
	switch reason {
	case auth.ReasonLogout, "":
		o.setStatus("Logged out", "info")
	default:
		o.setStatus(o.translator.Text(errors.CodeTokenExpired), "warning")
	}
	o.logger.Info("[认证] session ended (%s)", reason)
}

func (o *Operator) setStatus(text, level string) {
	next := eventbus.StatusPayload{Text: text, Level: level}
	if next == o.status {
		return
	}
	o.status = next
	o.bus.Publish(eventbus.TopicStatus, next)
}

func (o *Operator) reply(ch chan Reply, data any, err error) {
	r := Reply{View: o.view(), Data: data, Err: err}
	if err != nil {
		r.Message = o.translator.Translate(err)
		r.Hint, _ = o.translator.RetryHint(err)
	}
	// buffered with capacity one; the caller may already have given up
	select {
	case ch <- r:
	default:
	}
}

func (o *Operator) view() View {
	v := View{
		Authenticated: o.auth.Tokens().IsAuthenticated(),
		Status:        o.status,
		Email:         o.machines[verification.ChannelEmail].Snapshot(),
		SMS:           o.machines[verification.ChannelSMS].Snapshot(),
		Tasks:         o.dispatcher.Stats(),
	}
	if o.user != nil {
		u := *o.user
		v.User = &u
	}
	if o.realtime != nil {
		v.Realtime = o.realtime.Phase()
		v.ReconnectAttempts = o.realtime.ReconnectAttempts()
	} else {
		v.Realtime = ws.PhaseDisconnected
	}
	return v
}
