package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"merchant-verify-client/internal/app/operator"
	domainauth "merchant-verify-client/internal/domain/auth"
	authstore "merchant-verify-client/internal/domain/auth/store"
	"merchant-verify-client/internal/domain/eventbus"
	"merchant-verify-client/internal/domain/merchant"
	"merchant-verify-client/internal/domain/task"
	"merchant-verify-client/internal/domain/verification"
	platformconfig "merchant-verify-client/internal/platform/config"
	platformerrors "merchant-verify-client/internal/platform/errors"
	"merchant-verify-client/internal/platform/i18n"
	platformlogging "merchant-verify-client/internal/platform/logging"
	platformobservability "merchant-verify-client/internal/platform/observability"
	platformstorage "merchant-verify-client/internal/platform/storage"
	httptransport "merchant-verify-client/internal/transport/http"
	"merchant-verify-client/internal/transport/http/console"
	"merchant-verify-client/internal/transport/rest"
	"merchant-verify-client/internal/transport/ws"
)

const (
	userAgent = "merchant-verify-client/1.0"

	journalRetention = 90 * 24 * time.Hour
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	slogger               *slog.Logger
	observabilityShutdown platformobservability.ShutdownFunc

	db          *gorm.DB
	credentials authstore.Store
	bus         *eventbus.Bus
	translator  *i18n.Translator
	tokens      *domainauth.Tokens
	engine      *rest.Engine
	authManager *domainauth.Manager
	realtime    *ws.Channel
	dispatcher  *task.Dispatcher
	journal     *platformstorage.VerificationRecordRepository
	recorder    *verification.Recorder
	history     *verification.History
	merchants   *merchant.Service
	operator    *operator.Operator
	feed        *ws.Hub
	subs        []*eventbus.Subscription
}

// Run 启动客户端生命周期，负责加载配置、初始化依赖和优雅关停。
// configPath 为空时按默认规则查找配置文件。
func Run(ctx context.Context, configPath string) error {
	state := &appState{configPath: configPath}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		state.release()
		return err
	}

	logger := state.logger
	if state.config == nil || logger == nil {
		state.release()
		return platformerrors.Wrap(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
			errors.New("config/logger not initialised"),
		)
	}
	if state.operator == nil {
		state.release()
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"operator not initialised",
		)
	}

	logBootstrapGraph(logger, steps)
	defer state.release()

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(rootCtx)

	// a failing service ends the wait as well as a signal does
	signalCtx, stop := signal.NotifyContext(groupCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := startServices(state, group, groupCtx); err != nil {
		cancel()
		_ = group.Wait()
		return err
	}
	logger.InfoTag("引导", "客户端已启动")

	return waitForShutdown(signalCtx, cancel, logger, group)
}

// release 按依赖的逆序关闭已初始化的组件。
func (s *appState) release() {
	if s == nil {
		return
	}
	for _, sub := range s.subs {
		sub.Cancel()
	}
	s.subs = nil
	if s.recorder != nil {
		s.recorder.Detach()
	}
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	if s.realtime != nil {
		s.realtime.DisconnectUser()
	}
	if s.bus != nil {
		s.bus.WaitAsync()
	}
	if s.feed != nil {
		s.feed.CloseAll(nil)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.authManager != nil {
		if err := s.authManager.Close(closeCtx); err != nil && s.logger != nil {
			s.logger.ErrorTag("认证", "认证管理器未正常关闭: %v", err)
		}
		s.credentials = nil
	}
	if s.credentials != nil {
		_ = s.credentials.Close(closeCtx)
	}
	if s.bus != nil {
		s.bus.Close()
	}
	if s.db != nil {
		if err := platformstorage.Close(s.db); err != nil && s.logger != nil {
			s.logger.WarnTag("存储", "数据库未正常关闭: %v", err)
		}
	}
	if s.observabilityShutdown != nil {
		if err := s.observabilityShutdown(closeCtx); err != nil && s.logger != nil {
			s.logger.WarnTag("引导", "可观测性未正常关闭: %v", err)
		}
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
	*s = appState{}
}

func logBootstrapGraph(logger *platformlogging.Logger, steps []initStep) {
	if logger == nil {
		return
	}
	logger.InfoTag("引导", "初始化依赖关系概览")

	stepNames := map[string]string{
		"config:load":                "加载配置",
		"logging:init-provider":      "初始化日志提供者",
		"observability:setup-hooks":  "设置可观测性钩子",
		"storage:init-database":      "初始化数据库",
		"eventbus:init":              "初始化事件总线",
		"i18n:init-translator":       "加载错误文案",
		"auth:init-credential-store": "初始化凭据存储",
		"rest:init-engine":           "初始化请求引擎",
		"auth:init-manager":          "初始化认证管理器",
		"realtime:init-channel":      "初始化实时通道",
		"task:init-dispatcher":       "初始化任务调度器",
		"verification:init-journal":  "初始化验证日志",
		"merchant:init-service":      "初始化商户查询",
		"operator:init":              "初始化操作员循环",
		"feed:init-hub":              "初始化控制台事件推送",
	}

	for _, step := range steps {
		name, ok := stepNames[step.ID]
		if !ok {
			name = step.Title
		}
		if len(step.DependsOn) == 0 {
			logger.InfoTag("引导", "%s (%s)", name, step.ID)
			continue
		}
		logger.InfoTag("引导", "%s (%s) <- %s", name, step.ID, strings.Join(step.DependsOn, ", "))
	}
	logger.InfoTag("引导", "启动服务")
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Initialise database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "eventbus:init",
			Title:     "Initialise event bus",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initEventBusStep,
		},
		{
			ID:        "i18n:init-translator",
			Title:     "Load message catalogs",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindPlatform,
			Execute:   initTranslatorStep,
		},
		{
			ID:        "auth:init-credential-store",
			Title:     "Initialise credential store",
			DependsOn: []string{"storage:init-database"},
			Kind:      platformerrors.KindStorage,
			Execute:   initCredentialStoreStep,
		},
		{
			ID:        "rest:init-engine",
			Title:     "Initialise request engine",
			DependsOn: []string{"eventbus:init", "observability:setup-hooks"},
			Kind:      platformerrors.KindTransport,
			Execute:   initRequestEngineStep,
		},
		{
			ID:        "auth:init-manager",
			Title:     "Initialise auth manager",
			DependsOn: []string{"rest:init-engine", "auth:init-credential-store"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initAuthStep,
		},
		{
			ID:        "realtime:init-channel",
			Title:     "Initialise realtime channel",
			DependsOn: []string{"eventbus:init"},
			Kind:      platformerrors.KindTransport,
			Execute:   initRealtimeStep,
		},
		{
			ID:        "task:init-dispatcher",
			Title:     "Initialise task dispatcher",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initDispatcherStep,
		},
		{
			ID:        "verification:init-journal",
			Title:     "Initialise verification journal",
			DependsOn: []string{"storage:init-database", "eventbus:init", "rest:init-engine"},
			Kind:      platformerrors.KindStorage,
			Execute:   initJournalStep,
		},
		{
			ID:        "merchant:init-service",
			Title:     "Initialise merchant lookup",
			DependsOn: []string{"rest:init-engine"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initMerchantStep,
		},
		{
			ID:    "operator:init",
			Title: "Initialise operator loop",
			DependsOn: []string{
				"auth:init-manager",
				"realtime:init-channel",
				"task:init-dispatcher",
				"i18n:init-translator",
			},
			Kind:    platformerrors.KindBootstrap,
			Execute: initOperatorStep,
		},
		{
			ID:        "feed:init-hub",
			Title:     "Initialise console feed",
			DependsOn: []string{"eventbus:init"},
			Kind:      platformerrors.KindTransport,
			Execute:   initFeedStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	if state.config != nil {
		// supplied by the caller, only validate it
		return platformconfig.Validate(state.config)
	}

	result, err := platformconfig.NewLoader().WithPath(state.configPath).Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}

	state.logger = logger
	state.slogger = logger.Slog()

	source := state.configPath
	if source == "" {
		source = "defaults"
	}
	logger.InfoTag("引导", "日志模块就绪 [%s] %s", state.config.Log.Level, source)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	if state == nil || state.logger == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"observability:setup-hooks",
			"config/logger not initialised",
		)
	}

	cfg := platformobservability.Config{
		Enabled:  true,
		LogSpans: strings.EqualFold(state.config.Log.Level, "debug"),
	}

	shutdown, err := platformobservability.Setup(ctx, cfg, state.slogger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

func initDatabaseStep(_ context.Context, state *appState) error {
	if !state.config.Storage.Enabled {
		state.logger.InfoTag("存储", "本地数据库已禁用，验证日志不会落盘")
		return nil
	}

	db, err := platformstorage.Open(state.config.Storage.DSN)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-database", "failed to initialize database", err)
	}
	state.db = db
	state.logger.InfoTag("存储", "数据库就绪 %s", state.config.Storage.DSN)
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	state.bus = eventbus.New(state.logger, state.config.Dispatcher.Workers)
	return nil
}

func initTranslatorStep(_ context.Context, state *appState) error {
	catalog, err := i18n.LoadEmbedded()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindPlatform, "i18n:init-translator", "failed to load message catalogs", err)
	}
	state.translator = i18n.NewTranslator(catalog, state.config.Locale, state.config.Verification.CodeLength)
	return nil
}

func initCredentialStoreStep(_ context.Context, state *appState) error {
	cfg := state.config.CredentialStore
	driver := strings.ToLower(strings.TrimSpace(cfg.Type))
	storeCfg := authstore.Config{Driver: driver}
	deps := authstore.Dependencies{SQLiteDB: state.db}

	switch driver {
	case authstore.DriverSQLite:
		if deps.SQLiteDB == nil {
			if cfg.SQLite.DSN == "" {
				return platformerrors.New(
					platformerrors.KindConfig,
					"auth:init-credential-store",
					"sqlite credential store needs storage enabled or credential_store.sqlite.dsn",
				)
			}
			db, err := platformstorage.Open(cfg.SQLite.DSN)
			if err != nil {
				return platformerrors.Wrap(platformerrors.KindStorage, "auth:init-credential-store", "failed to open credential database", err)
			}
			state.db = db
			deps.SQLiteDB = db
		}
	case authstore.DriverRedis:
		if cfg.Redis.Addr == "" {
			return platformerrors.New(
				platformerrors.KindConfig,
				"auth:init-credential-store",
				"redis store addr is required",
			)
		}
		storeCfg.Redis = &authstore.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
		}
	}

	store, err := authstore.New(storeCfg, deps)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "auth:init-credential-store", "failed to create credential store", err)
	}
	state.credentials = store
	if driver == "" {
		driver = authstore.DriverMemory
	}
	state.logger.InfoTag("认证", "凭据存储就绪: %s", driver)
	return nil
}

func initRequestEngineStep(_ context.Context, state *appState) error {
	server := state.config.Server
	state.tokens = domainauth.NewTokens(state.bus)
	state.engine = rest.New(rest.Config{
		BaseURL:       server.BaseURL,
		Timeout:       server.Timeout,
		MaxRetries:    server.RetryAttempts,
		RetryDelay:    server.RetryDelay,
		RetryMaxDelay: server.RetryMaxDelay,
		RetryStatuses: server.RetryStatuses,
		RetryMethods:  server.RetryMethods,
		UserAgent:     userAgent,
	}, state.tokens, state.logger)
	state.logger.InfoTag("HTTP", "请求引擎就绪 %s (重试 %d 次)", server.BaseURL, server.RetryAttempts)
	return nil
}

func initAuthStep(ctx context.Context, state *appState) error {
	if state == nil || state.config == nil || state.logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"auth:init-manager",
			"missing config/logger",
		)
	}

	manager, err := domainauth.NewManager(domainauth.Options{
		Tokens:      state.tokens,
		Caller:      state.engine,
		Credentials: state.credentials,
		Bus:         state.bus,
		Logger:      state.logger,
		Config:      state.config.Auth,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "auth:init-manager", "failed to create auth manager", err)
	}
	state.authManager = manager

	if creds, ok, err := manager.StoredCredentials(ctx); err != nil {
		state.logger.WarnTag("认证", "读取已保存凭据失败: %v", err)
	} else if ok {
		state.logger.InfoTag("认证", "已保存用户 %s 的登录凭据", creds.Username)
	}
	return nil
}

func initRealtimeStep(_ context.Context, state *appState) error {
	cfg := state.config.Realtime
	if !cfg.Enabled {
		state.logger.InfoTag("WebSocket", "实时通道已禁用")
		return nil
	}
	if _, err := state.config.Server.Origin(); err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "realtime:init-channel", "cannot derive realtime address", err)
	}
	state.realtime = ws.NewChannel(ws.Config{
		Server:               state.config.Server,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		PingInterval:         cfg.PingInterval,
		HandshakeTimeout:     cfg.HandshakeTimeout,
	}, state.bus, state.logger)
	return nil
}

func initDispatcherStep(_ context.Context, state *appState) error {
	state.dispatcher = task.NewDispatcher(task.Config{
		Workers:   state.config.Dispatcher.Workers,
		QueueSize: state.config.Dispatcher.QueueSize,
	}, state.logger)
	return nil
}

func initJournalStep(ctx context.Context, state *appState) error {
	state.history = verification.NewHistory(state.engine)
	if !state.config.Storage.Enabled || state.db == nil {
		return nil
	}
	state.journal = platformstorage.NewVerificationRecordRepository(state.db)
	pruneCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if n, err := state.journal.Prune(pruneCtx, time.Now().Add(-journalRetention)); err != nil {
		state.logger.WarnTag("存储", "清理过期验证日志失败: %v", err)
	} else if n > 0 {
		state.logger.InfoTag("存储", "已清理 %d 条过期验证日志", n)
	}
	state.recorder = verification.NewRecorder(state.journal, state.logger, true)
	state.recorder.Attach(state.bus)
	return nil
}

func initMerchantStep(_ context.Context, state *appState) error {
	cfg := state.config.Merchant
	merchants := merchant.NewService(state.engine, state.logger,
		merchant.WithTTL(cfg.CacheTTL),
		merchant.WithLimits(cfg.CacheSize, cfg.MinQueryLength, cfg.PageSize),
	)
	// a verified merchant's cached record is stale; nothing is kept across operators
	state.subs = append(state.subs,
		state.bus.SubscribeAsync(eventbus.TopicVerificationCompleted, func(e eventbus.Event) {
			if res, ok := e.Payload.(verification.Result); ok {
				merchants.Invalidate(res.TargetID)
			}
		}),
		state.bus.SubscribeAsync(eventbus.TopicLogout, func(eventbus.Event) {
			merchants.ClearCache()
		}),
	)
	state.merchants = merchants
	return nil
}

func initOperatorStep(_ context.Context, state *appState) error {
	var realtime operator.Realtime
	if state.realtime != nil {
		realtime = state.realtime
	}

	op, err := operator.New(operator.Options{
		Auth:         state.authManager,
		Caller:       state.engine,
		Realtime:     realtime,
		Dispatcher:   state.dispatcher,
		Bus:          state.bus,
		Translator:   state.translator,
		Logger:       state.logger,
		Verification: state.config.Verification,
	})
	if err != nil {
		return err
	}
	state.operator = op
	return nil
}

func initFeedStep(_ context.Context, state *appState) error {
	state.feed = ws.NewHub(state.logger)
	for _, topic := range []string{
		eventbus.TopicStatus,
		eventbus.TopicLoginSucceeded,
		eventbus.TopicLogout,
		eventbus.TopicSessionExpired,
		eventbus.TopicRealtimeConnected,
		eventbus.TopicRealtimeDisconnected,
		eventbus.TopicRealtimeTerminal,
		eventbus.TopicVerificationCodeSent,
		eventbus.TopicVerificationCompleted,
		eventbus.TopicVerificationFailed,
		eventbus.TopicVerificationCancelled,
		eventbus.TopicVerificationCleared,
	} {
		state.subs = append(state.subs, state.bus.SubscribeAsync(topic, state.feed.Broadcast))
	}
	return nil
}

func startServices(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	logger := state.logger

	g.Go(func() error {
		err := state.operator.Run(groupCtx)
		if err != nil && groupCtx.Err() == nil {
			logger.ErrorTag("引导", "操作员循环异常退出: %v", err)
			return err
		}
		return nil
	})

	if state.config.Auth.AutoRefresh {
		g.Go(func() error {
			return state.authManager.RunAutoRefresh(groupCtx)
		})
	}

	if state.config.ControlAPI.Enabled {
		if _, err := startHTTPServer(state, g, groupCtx); err != nil {
			return fmt.Errorf("启动控制台服务失败: %w", err)
		}
	}
	return nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	cfg := state.config
	logger := state.logger

	httpRouter, err := httptransport.Build(httptransport.Options{
		Config:   cfg.ControlAPI,
		LogLevel: cfg.Log.Level,
		Logger:   logger,
	})
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "http:build-router", "failed to build router", err)
	}
	router := httpRouter.Engine

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, httptransport.APIResponse{
				Success: false,
				Data:    gin.H{},
				Message: "api Not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.Status(http.StatusNotFound)
	})

	feed := ws.NewRouter(state.feed, logger, ws.RouterOptions{
		HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
		Context:          groupCtx,
	})

	opts := console.Options{
		Operator:   state.operator,
		Account:    state.authManager,
		Merchants:  state.merchants,
		History:    state.history,
		Translator: state.translator,
		Logger:     logger,
		Validator:  verification.NewValidator(cfg.Verification.CodeLength, cfg.Verification.MaxTargetIDChars),
		Feed:       feed.Handle,
	}
	if state.journal != nil {
		opts.Journal = state.journal
	}
	consoleService, err := console.NewService(opts)
	if err != nil {
		logger.ErrorTag("控制台", "控制台服务初始化失败: %v", err)
		return nil, err
	}
	if err := consoleService.Register(httpRouter.API); err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "console:register", "failed to register routes", err)
	}

	addr := httptransport.Addr(cfg.ControlAPI)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "控制台已启动，访问地址 http://%s/api", addr)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "HTTP 服务关闭失败: %v", err)
			} else {
				logger.InfoTag("HTTP", "HTTP 服务已优雅关闭")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "HTTP 服务启动失败: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("引导", "收到系统信号 %v，正在进行资源清理", context.Cause(ctx))

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("引导", "服务关闭过程中出现错误: %v", err)
			return err
		}
		logger.InfoTag("引导", "所有服务已成功关闭")
	case <-time.After(15 * time.Second):
		logger.ErrorTag("引导", "服务关闭超时，已强制退出")
		return errors.New("服务关闭超时")
	}
	return nil
}

// loadConfigAndLogger 加载配置和日志记录器（用于测试）
func loadConfigAndLogger(configPath string) (*platformconfig.Config, *platformlogging.Logger, error) {
	state := &appState{configPath: configPath}

	steps := []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
	}

	if err := executeInitSteps(context.Background(), steps, state); err != nil {
		return nil, nil, err
	}

	return state.config, state.logger, nil
}
