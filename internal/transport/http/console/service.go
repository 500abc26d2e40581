package console

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"merchant-verify-client/internal/app/operator"
	"merchant-verify-client/internal/domain/auth"
	"merchant-verify-client/internal/domain/merchant"
	"merchant-verify-client/internal/domain/verification"
	"merchant-verify-client/internal/platform/errors"
	"merchant-verify-client/internal/platform/i18n"
	"merchant-verify-client/internal/platform/observability"
	"merchant-verify-client/internal/platform/storage"
	httptransport "merchant-verify-client/internal/transport/http"
)

// Operator is the owner loop every handler posts intents to.
type Operator interface {
	Do(ctx context.Context, in operator.Intent) (operator.Reply, error)
}

// Account answers identity and server health lookups.
type Account interface {
	CurrentUser(ctx context.Context) (auth.User, error)
	CheckHealth(ctx context.Context) (string, error)
}

type Merchants interface {
	Search(ctx context.Context, query string, page, pageSize int) ([]merchant.Merchant, error)
}

type History interface {
	Fetch(ctx context.Context, f verification.HistoryFilter) ([]verification.HistoryEntry, error)
}

// Journal is the local record of finished sessions. It is optional.
type Journal interface {
	List(ctx context.Context, filter storage.JournalFilter) ([]storage.VerificationRecord, error)
	CountByOutcome(ctx context.Context) (map[string]int64, error)
}

// Options 控制台服务依赖
type Options struct {
	Operator   Operator
	Account    Account
	Merchants  Merchants
	History    History
	Journal    Journal
	Translator *i18n.Translator
	Logger     httptransport.Logger
	// Validator supplies the binding tags; a default one is used when nil.
	Validator *verification.Validator
	// Feed upgrades the dashboard event stream; nil disables the route.
	Feed http.HandlerFunc
}

// Service 操作员控制台的 HTTP 接口。处理函数只向所有者循环投递意图并渲染应答。
type Service struct {
	op         Operator
	account    Account
	merchants  Merchants
	history    History
	journal    Journal
	translator *i18n.Translator
	logger     httptransport.Logger
	validator  *verification.Validator
	feed       http.HandlerFunc
}

// NewService 创建控制台服务
func NewService(opts Options) (*Service, error) {
	switch {
	case opts.Operator == nil:
		return nil, errors.New(errors.KindConfig, "console.new", "operator is required")
	case opts.Account == nil:
		return nil, errors.New(errors.KindConfig, "console.new", "account is required")
	case opts.Merchants == nil:
		return nil, errors.New(errors.KindConfig, "console.new", "merchant service is required")
	case opts.History == nil:
		return nil, errors.New(errors.KindConfig, "console.new", "history client is required")
	case opts.Translator == nil:
		return nil, errors.New(errors.KindConfig, "console.new", "translator is required")
	case opts.Logger == nil:
		return nil, errors.New(errors.KindConfig, "console.new", "logger is required")
	}
	if opts.Validator == nil {
		opts.Validator = verification.NewValidator(0, 0)
	}
	return &Service{
		op:         opts.Operator,
		account:    opts.Account,
		merchants:  opts.Merchants,
		history:    opts.History,
		journal:    opts.Journal,
		translator: opts.Translator,
		logger:     opts.Logger,
		validator:  opts.Validator,
		feed:       opts.Feed,
	}, nil
}

// Register 注册控制台路由
func (s *Service) Register(router *gin.RouterGroup) error {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := s.validator.RegisterTags(v); err != nil {
			return errors.Wrap(errors.KindConfig, "console.register", "register binding tags", err)
		}
	}

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", s.handleMetrics)

	session := router.Group("/session")
	{
		session.GET("", s.handleSession)
		session.POST("/login", s.handleLogin)
		session.POST("/logout", s.handleLogout)
		session.GET("/me", s.handleCurrentUser)
	}

	router.GET("/merchants", s.handleMerchantSearch)
	router.GET("/history", s.handleHistory)
	router.GET("/journal", s.handleJournal)
	router.GET("/journal/stats", s.handleJournalStats)

	flows := router.Group("/verifications")
	{
		flows.GET("", s.handleSession)
		flows.GET("/:channel", s.handleSnapshot)
		flows.POST("/:channel/target", s.handleSelectTarget)
		flows.DELETE("/:channel/target", s.intent(operator.IntentClearTarget))
		flows.POST("/:channel/send", s.intent(operator.IntentSend))
		flows.POST("/:channel/code", s.handleEnterCode)
		flows.POST("/:channel/backspace", s.intent(operator.IntentBackspace))
		flows.POST("/:channel/submit", s.intent(operator.IntentSubmit))
		flows.POST("/:channel/cancel", s.intent(operator.IntentCancel))
	}

	if s.feed != nil {
		router.GET("/feed", gin.WrapF(s.feed))
	}

	s.logger.Info("[控制台] routes registered")
	return nil
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Remember bool   `json:"remember_me"`
}

type targetRequest struct {
	MerchantID string `json:"merchant_id" binding:"required,max=64"`
	Name       string `json:"name" binding:"max=255"`
	Contact    string `json:"contact" binding:"required,max=254"`
}

type codeRequest struct {
	Digits string `json:"digits" binding:"required,digits,max=16"`
}

type searchQuery struct {
	Q        string `form:"q" binding:"required"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

type historyQuery struct {
	Limit      int    `form:"limit" binding:"omitempty,min=1"`
	Status     string `form:"status"`
	Method     string `form:"method" binding:"omitempty,oneof=email sms"`
	MerchantID string `form:"merchant_id"`
}

type journalQuery struct {
	Channel string `form:"channel" binding:"omitempty,oneof=email sms"`
	Outcome string `form:"outcome" binding:"omitempty,oneof=completed failed cancelled"`
	Limit   int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

func (s *Service) handleSession(c *gin.Context) {
	s.respond(c, operator.Intent{Kind: operator.IntentSnapshot})
}

func (s *Service) handleSnapshot(c *gin.Context) {
	strategy, ok := s.strategy(c, "console.snapshot")
	if !ok {
		return
	}
	r, ok := s.do(c, operator.Intent{Kind: operator.IntentSnapshot})
	if !ok {
		return
	}
	if strategy.Channel() == verification.ChannelSMS {
		httptransport.RespondSuccess(c, http.StatusOK, r.View.SMS, "")
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, r.View.Email, "")
}

func (s *Service) handleLogin(c *gin.Context) {
	var req loginRequest
	if !s.bind(c, c.ShouldBindJSON(&req)) {
		return
	}
	s.respond(c, operator.Intent{
		Kind:     operator.IntentLogin,
		Username: req.Username,
		Password: req.Password,
		Remember: req.Remember,
	})
}

func (s *Service) handleLogout(c *gin.Context) {
	s.respond(c, operator.Intent{Kind: operator.IntentLogout})
}

func (s *Service) handleCurrentUser(c *gin.Context) {
	s.fetch(c, "session.me", func(ctx context.Context) (any, error) {
		return s.account.CurrentUser(ctx)
	})
}

func (s *Service) handleHealth(c *gin.Context) {
	s.fetch(c, "health", func(ctx context.Context) (any, error) {
		status, err := s.account.CheckHealth(ctx)
		if err != nil {
			return nil, err
		}
		return gin.H{"server": status}, nil
	})
}

func (s *Service) handleMetrics(c *gin.Context) {
	r, ok := s.do(c, operator.Intent{Kind: operator.IntentSnapshot})
	if !ok {
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"tasks":    r.View.Tasks,
		"realtime": r.View.Realtime,
		"metrics":  observability.Snapshot(),
	}, "")
}

func (s *Service) handleMerchantSearch(c *gin.Context) {
	var q searchQuery
	if !s.bind(c, c.ShouldBindQuery(&q)) {
		return
	}
	s.fetch(c, "merchant.search", func(ctx context.Context) (any, error) {
		results, err := s.merchants.Search(ctx, q.Q, q.Page, q.PageSize)
		if err != nil {
			return nil, err
		}
		out := make([]merchantView, 0, len(results))
		for i := range results {
			out = append(out, merchantView{Merchant: results[i], Display: merchant.FormatDisplay(&results[i])})
		}
		return out, nil
	})
}

// merchantView adds the list line shown by the console.
type merchantView struct {
	merchant.Merchant
	Display string `json:"display"`
}

func (s *Service) handleHistory(c *gin.Context) {
	var q historyQuery
	if !s.bind(c, c.ShouldBindQuery(&q)) {
		return
	}
	s.fetch(c, "history.fetch", func(ctx context.Context) (any, error) {
		return s.history.Fetch(ctx, verification.HistoryFilter{
			Limit:      q.Limit,
			Status:     q.Status,
			Method:     q.Method,
			MerchantID: q.MerchantID,
		})
	})
}

func (s *Service) handleJournal(c *gin.Context) {
	if s.journal == nil {
		httptransport.RespondError(c, http.StatusNotFound, "local journal is disabled", nil)
		return
	}
	var q journalQuery
	if !s.bind(c, c.ShouldBindQuery(&q)) {
		return
	}
	s.fetch(c, "journal.list", func(ctx context.Context) (any, error) {
		return s.journal.List(ctx, storage.JournalFilter{Channel: q.Channel, Outcome: q.Outcome, Limit: q.Limit})
	})
}

func (s *Service) handleJournalStats(c *gin.Context) {
	if s.journal == nil {
		httptransport.RespondError(c, http.StatusNotFound, "local journal is disabled", nil)
		return
	}
	s.fetch(c, "journal.stats", func(ctx context.Context) (any, error) {
		return s.journal.CountByOutcome(ctx)
	})
}

func (s *Service) handleSelectTarget(c *gin.Context) {
	strategy, ok := s.strategy(c, "console.select_target")
	if !ok {
		return
	}
	var req targetRequest
	if !s.bind(c, c.ShouldBindJSON(&req)) {
		return
	}
	// contact errors are reported per field like binding errors
	if err := strategy.ValidateContact(s.validator, verification.Sanitize(req.Contact)); err != nil {
		s.fail(c, err, s.translator.TranslateFields(map[string][]string{
			strategy.ContactField(): {errors.CodeOf(err)},
		}))
		return
	}
	s.respond(c, operator.Intent{
		Kind:    operator.IntentSelectTarget,
		Channel: strategy.Channel(),
		Target:  verification.Target{ID: req.MerchantID, Name: req.Name, Contact: req.Contact},
	})
}

// strategy resolves the :channel parameter, rendering unknown channels.
func (s *Service) strategy(c *gin.Context, op string) (verification.Strategy, bool) {
	strategy, ok := verification.StrategyFor(verification.Channel(c.Param("channel")))
	if !ok {
		s.fail(c, errors.New(errors.KindValidation, op, "unknown verification channel").
			WithCode(errors.CodeValidationFailed), nil)
	}
	return strategy, ok
}

func (s *Service) handleEnterCode(c *gin.Context) {
	var req codeRequest
	if !s.bind(c, c.ShouldBindJSON(&req)) {
		return
	}
	s.respond(c, operator.Intent{
		Kind:    operator.IntentEnterCode,
		Channel: verification.Channel(c.Param("channel")),
		Digits:  req.Digits,
	})
}

// intent builds a handler for a body-less workflow intent.
func (s *Service) intent(kind operator.IntentKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.respond(c, operator.Intent{Kind: kind, Channel: verification.Channel(c.Param("channel"))})
	}
}

func (s *Service) respond(c *gin.Context, in operator.Intent) {
	if r, ok := s.do(c, in); ok {
		httptransport.RespondSuccess(c, http.StatusOK, r.View, "")
	}
}

func (s *Service) fetch(c *gin.Context, name string, fn func(ctx context.Context) (any, error)) {
	r, ok := s.do(c, operator.Intent{Kind: operator.IntentFetch, Name: name, Fetch: fn})
	if ok {
		httptransport.RespondSuccess(c, http.StatusOK, r.Data, "")
	}
}

// do posts an intent and renders failures. ok is false once a response was written.
func (s *Service) do(c *gin.Context, in operator.Intent) (operator.Reply, bool) {
	r, err := s.op.Do(c.Request.Context(), in)
	if err != nil {
		s.fail(c, errors.Wrap(errors.KindRequest, "console."+string(in.Kind), "operator unavailable", err).
			WithCode(errors.CodeBusy), nil)
		return r, false
	}
	if r.Err != nil {
		if r.Message == "" {
			r.Message = s.translator.Translate(r.Err)
			r.Hint, _ = s.translator.RetryHint(r.Err)
		}
		httptransport.RespondFailure(c, r.Err, r.Message, r.Hint, r.View)
		return r, false
	}
	return r, true
}

func (s *Service) fail(c *gin.Context, err error, data any) {
	hint, _ := s.translator.RetryHint(err)
	httptransport.RespondFailure(c, err, s.translator.Translate(err), hint, data)
}

// bind renders binding failures with per-field translated messages.
func (s *Service) bind(c *gin.Context, err error) bool {
	if err == nil {
		return true
	}
	verr := errors.Wrap(errors.KindValidation, "console.bind", "invalid request", err).WithCode(errors.CodeValidationFailed)

	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		s.fail(c, verr, nil)
		return false
	}
	fields := make(map[string][]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = append(fields[fe.Field()], fieldCode(fe))
	}
	s.fail(c, verr, s.translator.TranslateFields(fields))
	return false
}

func fieldCode(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return errors.CodeRequiredField
	case "digits":
		return errors.CodeInvalidCode
	}
	return "invalid_format"
}
