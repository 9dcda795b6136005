package discordato

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/giveme11us/discordato/discordato.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout

	// setupPollInterval is how often Run re-checks the DB for admin
	// credentials while initial setup is pending.
	setupPollInterval = 5 * time.Second
)

// Discordato is the main application struct: it wires together the
// Discord session, the feature modules, the database, the DB notifier
// and the admin API, and owns the runtime lifecycle.
type Discordato struct {
	config *Config

	dbNotifier DBNotifier

	// Pointer to a read-only GORM connection. This is from an
	// overabundance of caution for using SQLite.
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations. When using
	// sqlite, a mutex serializes writes.
	writeDB DBI

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Provides the back-end admin API
	api *API

	// Feature modules (keyword filter, pinger, reaction forward,
	// link reaction, redeye)
	modules *ModuleRegistry

	// One settings manager per module, rooted at <data_dir>/settings
	settingsRegistry *SettingsRegistry

	permissions *permissionChecker

	// Limits reaction adds and webhook forwards
	reactionLimiter *rate.Limiter

	// Limits notification embeds sent to notification channels
	notificationLimiter *rate.Limiter

	// signalStop enables an explicit stop signal to be sent to the bot,
	// such as by the `/api/quit` endpoint
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has finished
	// initializing: database connected, settings loaded, API started,
	// discord session opened and commands registered.
	signalReady chan struct{}

	// A signal is sent on this channel when the
	// [Discordato.shutdown] function finished
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	// Indicates whether admin credentials have been set. If they
	// haven't, Run holds after the API has started, prior to opening
	// the discord session.
	pendingSetup atomic.Bool

	// Runtime-configurable settings - things you may want to
	// change without restarting the bot.
	runtimeConfig *RuntimeConfig

	// protecc the runtime config
	cfgMu sync.RWMutex

	triggerRuntimeConfigRefreshCh chan bool
	triggerSettingsRefreshCh      chan string
}

// New creates and initializes a new Discordato instance: loggers,
// discord integration, settings registry, feature modules, and the
// admin API. Errors are collected and returned joined.
func New(config *Config) (*Discordato, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	d := &Discordato{
		config:                        config,
		signalReady:                   make(chan struct{}, 1),
		eventShutdown:                 make(chan struct{}, 1),
		triggerRuntimeConfigRefreshCh: make(chan bool, 1),
		triggerSettingsRefreshCh:      make(chan string, 1),
	}

	d.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     d.config.LogLevel,
			AddSource: true,
		},
	)

	d.logger = slog.New(d.logHandler)
	slog.SetDefault(d.logger)

	d.config.Discord.httpClient = d.config.HTTPClient

	disc, err := newDiscord(d.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     d.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     d.config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		d.discord = disc
		disc.d = d
	}

	d.permissions = newPermissionChecker(d)
	d.reactionLimiter = rate.NewLimiter(rate.Limit(DefaultReactionRateLimit), 1)
	d.notificationLimiter = rate.NewLimiter(rate.Limit(DefaultReactionRateLimit), 1)

	d.settingsRegistry = NewSettingsRegistry(d.config.DataDir, d.logger)
	d.modules = NewModuleRegistry(d.logger)

	if moduleErr := d.registerModules(); moduleErr != nil {
		errs = append(errs, moduleErr)
	}

	api, err := newAPI(d, config.API)
	errs = append(errs, err)
	d.api = api

	return d, errors.Join(errs...)
}

// registerModules constructs and registers the feature modules in
// dispatch order.
func (d *Discordato) registerModules() error {
	keywordFilter, err := NewKeywordFilter(d)
	if err != nil {
		return fmt.Errorf("keyword filter: %w", err)
	}
	pinger, err := NewPinger(d)
	if err != nil {
		return fmt.Errorf("pinger: %w", err)
	}
	forward, err := NewReactionForward(d)
	if err != nil {
		return fmt.Errorf("reaction forward: %w", err)
	}
	linkReaction, err := NewLinkReaction(d, forward)
	if err != nil {
		return fmt.Errorf("link reaction: %w", err)
	}
	redeye, err := NewRedeye(d)
	if err != nil {
		return fmt.Errorf("redeye: %w", err)
	}

	var errs []error
	for _, m := range []Module{keywordFilter, pinger, forward, linkReaction, redeye} {
		errs = append(errs, d.modules.Register(m))
	}
	return errors.Join(errs...)
}

func (d *Discordato) ValidateConfig() error {
	return structValidator.Struct(d.config)
}

// RuntimeConfig returns a copy of the current runtime configuration
func (d *Discordato) RuntimeConfig() RuntimeConfig {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return *d.runtimeConfig
}

func (d *Discordato) getLogger(ctx context.Context) (
	context.Context,
	*slog.Logger,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = d.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// notificationChannelFor resolves a module's notification channel,
// falling back to the bot-wide channel from the runtime config.
func (d *Discordato) notificationChannelFor(settings *SettingsManager) string {
	if channelID := settings.String("notification_channel_id", ""); channelID != "" {
		return channelID
	}
	return d.RuntimeConfig().NotificationChannelID
}

// sendNotification sends a rate-limited message to a notification
// channel.
func (d *Discordato) sendNotification(
	ctx context.Context,
	channelID string,
	data *discordgo.MessageSend,
) error {
	if err := d.notificationLimiter.Wait(ctx); err != nil {
		return err
	}
	_, err := d.discord.session.ChannelMessageSendComplex(channelID, data)
	return err
}

// RegisterSlashCommands registers the bot's slash commands: the core
// commands plus every module's.
func (d *Discordato) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	commands := []*discordgo.ApplicationCommand{
		appCommandPing(),
		appCommandPurge(),
	}
	commands = append(commands, d.modules.Commands()...)
	return d.discord.registerCommands(commands, options...)
}

// Run starts the main loop of the Discordato bot: connects the
// database, starts the API, opens the discord session, registers
// commands, and blocks until the context is canceled or a stop signal
// arrives.
func (d *Discordato) Run(ctx context.Context) error {
	// prevents concurrent runs
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.signalStop = make(chan struct{}, 1)

	d.startedAt = time.Now()
	logger := d.logger

	if err := d.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)

	runtimeWG := &sync.WaitGroup{}

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", d.config))
	if d.signalReady == nil {
		d.signalReady = make(chan struct{}, 1)
	}

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-d.signalStop:
			d.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			d.logger.Warn("context canceled, sending stop signal")
			d.signalStop <- struct{}{}
			return
		}
	}()

	go func() {
		httpErr := d.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			d.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, d.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- d.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			if d.api != nil && d.api.listener != nil {
				go func() {
					if e := d.api.listener.Close(); e != nil {
						logger.ErrorContext(ctx, "error closing listener", tint.Err(e))
					}
				}()
			}
			return err
		}
		logger.WarnContext(ctx, "init complete")
	}

	if setupErr := d.waitOnSetup(ctx, logger, runtimeWG); setupErr != nil {
		return setupErr
	}

	runtimeCfg := d.RuntimeConfig()

	if !runtimeCfg.DiscordGatewayEnabled {
		logger.WarnContext(ctx, "discord gateway disabled, running API only")
	}

	if discErr := d.initDiscordSession(); discErr != nil {
		d.logger.ErrorContext(ctx, "error creating discord session", tint.Err(discErr))
		return discErr
	}

	if err := d.discordInit(ctx, runtimeCfg, logger); err != nil {
		return err
	}

	d.startRuntimeConfigRefresher(ctx, runtimeWG, logger)
	d.startSettingsRefreshListener(ctx, runtimeWG)

	d.signalReady <- struct{}{}
	d.logger.InfoContext(ctx, "sent ready signal")

	listeners := &errgroup.Group{}
	listeners.Go(func() error {
		return d.dbNotifier.Listen(ctx, d.dbNotifier.RuntimeConfigChannelName())
	})
	listeners.Go(func() error {
		return d.dbNotifier.Listen(ctx, d.dbNotifier.SettingsChannelName())
	})
	listeners.Go(func() error {
		return d.dbNotifier.Listen(ctx, d.dbNotifier.StopChannelName())
	})
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		if e := listeners.Wait(); e != nil {
			d.logger.ErrorContext(ctx, "db notifier listener error", tint.Err(e))
		}
	}()

	// block until something cancels the main runtime context - generally
	// from an interrupt, or the `/api/quit` endpoint
	stopCh := make(chan struct{}, 1)
	go func() {
		<-ctx.Done()
		stopCh <- struct{}{}
	}()
	<-stopCh

	return d.shutdown(ctx, runtimeWG)
}

// initRun connects the database, loads (or creates) the runtime config,
// and creates the DB notifier. Called with the startup-timeout context.
func (d *Discordato) initRun(ctx context.Context) error {
	db, err := CreateDB(ctx, d.config.DatabaseType, d.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	d.db = db
	d.writeDB = NewDatabase(db, d.logger, d.config.DatabaseType == dbTypePostgres)

	notifier, err := newDBNotifier(d)
	if err != nil {
		return fmt.Errorf("error creating db notifier: %w", err)
	}
	d.dbNotifier = notifier

	var runtimeConfig RuntimeConfig
	err = d.db.WithContext(ctx).Last(&runtimeConfig).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		runtimeConfig = DefaultRuntimeConfig()
		if _, createErr := d.writeDB.Create(ctx, &runtimeConfig); createErr != nil {
			return fmt.Errorf("error creating runtime config: %w", createErr)
		}
		d.logger.InfoContext(ctx, "created default runtime config")
	case err != nil:
		return fmt.Errorf("error loading runtime config: %w", err)
	}

	d.cfgMu.Lock()
	d.runtimeConfig = &runtimeConfig
	d.cfgMu.Unlock()

	d.setRuntimeLevels(runtimeConfig)
	d.setRateLimits(runtimeConfig)

	if runtimeConfig.AdminUsername == "" || runtimeConfig.AdminPassword == "" {
		d.pendingSetup.Store(true)
	}
	return nil
}

// setRuntimeLevels applies the runtime config's log levels to the
// config's level vars.
func (d *Discordato) setRuntimeLevels(config RuntimeConfig) {
	d.config.LogLevel.Set(config.LogLevel.Level())
	d.config.DatabaseLogLevel.Set(config.DatabaseLogLevel.Level())
	d.config.Discord.LogLevel.Set(config.DiscordLogLevel.Level())
	d.config.Discord.DiscordGoLogLevel.Set(config.DiscordGoLogLevel.Level())
	d.config.API.LogLevel.Set(config.APILogLevel.Level())
}

func (d *Discordato) setRateLimits(config RuntimeConfig) {
	limit := config.ReactionRateLimit
	if limit <= 0 {
		limit = DefaultReactionRateLimit
	}
	d.reactionLimiter.SetLimit(rate.Limit(limit))
	d.notificationLimiter.SetLimit(rate.Limit(limit))
}

func (d *Discordato) waitOnSetup(
	ctx context.Context,
	logger *slog.Logger,
	runtimeWG *sync.WaitGroup,
) error {
	if !d.pendingSetup.Load() {
		return nil
	}

	logger.WarnContext(
		ctx,
		fmt.Sprintf(
			"pending initial setup at: %s%s",
			d.config.API.Listen,
			apiAdminSetup,
		),
	)
	pendingStateCh := make(chan struct{}, 1)
	go func() {
		for ctx.Err() == nil {
			var runtimeState RuntimeConfig
			logger.InfoContext(ctx, "checking if runtime config exists yet")
			getRuntimeStateErr := d.db.Last(&runtimeState).Error
			if getRuntimeStateErr != nil {
				logger.ErrorContext(
					ctx,
					"error getting runtime state",
					tint.Err(getRuntimeStateErr),
				)
			}
			if runtimeState.AdminUsername != "" && runtimeState.AdminPassword != "" {
				pendingStateCh <- struct{}{}
				return
			}
			time.Sleep(setupPollInterval)
		}
	}()

	select {
	case <-ctx.Done():
		logger.WarnContext(ctx, "context cancelled waiting on setup, exiting")
		return d.shutdown(ctx, runtimeWG)
	case <-pendingStateCh:
		d.pendingSetup.Store(false)
	}

	return nil
}

// initDiscordSession creates the gateway session and attaches the
// event handlers.
func (d *Discordato) initDiscordSession() error {
	session, err := d.discord.newSession()
	if err != nil {
		return err
	}
	d.discord.session = session

	session.SetIdentify(
		discordgo.Identify{
			Intents:  d.config.Discord.GatewayIntents,
			Presence: getDiscordPresenceStatusUpdate(d.RuntimeConfig()),
		},
	)

	d.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(d.discord.handlerReady()),
		session.AddHandler(d.discord.handlerConnect()),
		session.AddHandler(d.discord.handlerDisconnect()),
		session.AddHandler(d.handlerMessageCreate()),
		session.AddHandler(d.handlerReactionAdd()),
		session.AddHandler(d.handlerInteractionCreate()),
	}
	return nil
}

// discordInit opens the discord websocket connection and registers
// commands, if the gateway is enabled
func (d *Discordato) discordInit(
	ctx context.Context,
	runtimeCfg RuntimeConfig,
	logger *slog.Logger,
) error {
	if !runtimeCfg.DiscordGatewayEnabled {
		return nil
	}
	d.logger.InfoContext(ctx, "connecting to discord")
	if err := d.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	if _, err := d.RegisterSlashCommands(); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}

	if runtimeCfg.DiscordCustomStatus != "" && !runtimeCfg.Paused {
		go func() {
			if statusErr := d.discord.updateCustomStatus(
				runtimeCfg.DiscordCustomStatus,
			); statusErr != nil {
				logger.Error("error updating discord status", tint.Err(statusErr))
			}
		}()
	}
	return nil
}

// handlerMessageCreate returns the gateway handler that fans message
// events out to the feature modules.
func (d *Discordato) handlerMessageCreate() func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if d.RuntimeConfig().Paused {
			return
		}
		d.discord.metricMessagesSeen.Add(1)
		go func() {
			ctx := WithLogger(context.Background(), d.logger)
			d.modules.DispatchMessageCreate(ctx, m)
		}()
	}
}

// handlerReactionAdd returns the gateway handler that fans reaction
// events out to the feature modules.
func (d *Discordato) handlerReactionAdd() func(
	s *discordgo.Session,
	r *discordgo.MessageReactionAdd,
) {
	return func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		if d.RuntimeConfig().Paused {
			return
		}
		d.discord.metricReactionsSeen.Add(1)
		go func() {
			ctx := WithLogger(context.Background(), d.logger)
			d.modules.DispatchReactionAdd(ctx, r)
		}()
	}
}

// startRuntimeConfigRefresher starts the runtime config refresher
// goroutine, along with a ticker when a TTL is configured.
func (d *Discordato) startRuntimeConfigRefresher(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
	logger *slog.Logger,
) {
	runtimeConfigTTL := d.config.RuntimeConfigTTL

	if runtimeConfigTTL > 0 {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			ticker := time.NewTicker(runtimeConfigTTL)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case d.triggerRuntimeConfigRefreshCh <- false:
						logger.Info("sent cache refresh signal from ticker")
					case <-time.After(5 * time.Second):
						logger.Warn("timed out sending config refresh signal")
					}
				}
			}
		}()
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case forceRefresh := <-d.triggerRuntimeConfigRefreshCh:
				refreshCh := make(chan struct{}, 1)
				refreshCtx, refreshCancel := context.WithTimeout(ctx, 30*time.Second)
				go func() {
					d.refreshRuntimeConfig(refreshCtx, forceRefresh)
					refreshCh <- struct{}{}
				}()
				select {
				case <-refreshCh:
				//
				case <-refreshCtx.Done():
					d.logger.Warn("refresh runtime config timed out or interrupted")
				}
				refreshCancel()
			}
		}
	}()
}

// startSettingsRefreshListener reloads module settings documents when
// signaled by the DB notifier (or a local config command).
func (d *Discordato) startSettingsRefreshListener(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) {
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				d.logger.Info("context canceled, stopping settings refresh listener")
				return
			case moduleName := <-d.triggerSettingsRefreshCh:
				if err := d.modules.ReloadSettings(moduleName); err != nil {
					d.logger.Error(
						"error reloading settings",
						tint.Err(err),
						"module", moduleName,
					)
				} else {
					d.logger.Info("reloaded settings", "module", moduleName)
				}
			}
		}
	}()
}

func (d *Discordato) refreshRuntimeConfig(ctx context.Context, force bool) {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()

	runtimeConfigTTL := d.config.RuntimeConfigTTL
	rollbackConfig := d.runtimeConfig

	var refreshConfig RuntimeConfig
	if err := d.db.WithContext(ctx).Last(&refreshConfig).Error; err != nil {
		d.logger.Error("error getting runtime config", tint.Err(err))
		return
	}

	lastUpdated := time.Since(time.UnixMilli(refreshConfig.UpdatedAt))
	if force || lastUpdated > runtimeConfigTTL {
		d.logger.Info(
			fmt.Sprintf(
				"runtime config last updated: %s ago, refreshing",
				lastUpdated.String(),
			),
		)
		d.unsafeRefreshRuntimeConfig(rollbackConfig, &refreshConfig)
	} else {
		d.logger.Info("runtime config is up to date, skipping refresh")
	}
}

// unsafeRefreshRuntimeConfig refreshes the runtime configuration without
// locking the config mutex.
func (d *Discordato) unsafeRefreshRuntimeConfig(
	rollbackConfig *RuntimeConfig,
	existingConfig *RuntimeConfig,
) {
	d.logger.Info("refreshing runtime configuration")
	switch {
	case rollbackConfig.DiscordGatewayEnabled && !existingConfig.DiscordGatewayEnabled:
		if discErr := d.discord.session.Close(); discErr != nil {
			d.logger.Error("error closing discord connection", tint.Err(discErr))
		}
	case rollbackConfig.DiscordGatewayEnabled && existingConfig.DiscordGatewayEnabled:
		switch {
		case existingConfig.Paused:
			if !rollbackConfig.Paused {
				if discErr := d.discord.updateStatusComplex(
					discordgo.UpdateStatusData{
						AFK:    true,
						Status: string(discordgo.StatusDoNotDisturb),
					},
				); discErr != nil {
					d.logger.Error("error updating discord status", tint.Err(discErr))
				}
			}
		case existingConfig.DiscordCustomStatus != rollbackConfig.DiscordCustomStatus:
			if discErr := d.discord.updateCustomStatus(
				existingConfig.DiscordCustomStatus,
			); discErr != nil {
				d.logger.Error("error updating discord status", tint.Err(discErr))
			}
		}
	case existingConfig.DiscordGatewayEnabled:
		d.discord.session.SetIdentify(
			discordgo.Identify{
				Intents:  d.config.Discord.GatewayIntents,
				Presence: getDiscordPresenceStatusUpdate(*existingConfig),
			},
		)
		if discErr := d.discord.session.Open(); discErr != nil {
			d.logger.Error("error opening discord connection", tint.Err(discErr))
		}
	}

	d.runtimeConfig = existingConfig
	d.setRuntimeLevels(*existingConfig)
	d.setRateLimits(*existingConfig)

	d.logger.Info("refreshed runtime config")
}

func (d *Discordato) shutdown(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	d.logger.WarnContext(ctx, "shutting down")
	defer func() {
		if d.eventShutdown != nil {
			go func() {
				d.eventShutdown <- struct{}{}
			}()
		}
	}()
	shutdownStart := time.Now()
	shutdownTimeout := d.config.ShutdownTimeout
	if shutdownTimeout.Seconds() == 0 {
		d.logger.Warn("immediate shutdown")
		go func() {
			_ = d.api.httpServer.Close()
		}()
		return fmt.Errorf("immediate shutdown requested")
	}
	shutdownDeadline := shutdownStart.Add(shutdownTimeout)

	d.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", d.config.ShutdownTimeout,
		"shutdown_started", shutdownStart,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(
		context.Background(),
		shutdownDeadline,
	)
	defer closeCancel()

	if d.discord != nil && d.discord.session != nil {
		for _, removeHandler := range d.discord.discordgoRemoveHandlerFuncs {
			removeHandler()
		}
		if closeErr := d.discord.session.Close(); closeErr != nil {
			d.logger.Error("error closing discord session", tint.Err(closeErr))
		}
	}

	if d.api != nil && d.api.httpServer != nil {
		if apiErr := d.api.httpServer.Shutdown(closeCtx); apiErr != nil {
			d.logger.Error("error shutting down api server", tint.Err(apiErr))
		}
	}

	// Graceful shutdown - at least until closeCtx is closed
	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		gracefulShutdownCh <- struct{}{}
	}()

	select {
	case <-gracefulShutdownCh:
		d.logger.Info(
			"shutdown complete",
			"elapsed", time.Since(shutdownStart).String(),
		)
		return nil
	case <-closeCtx.Done():
		d.logger.Warn("shutdown deadline exceeded")
		return fmt.Errorf("shutdown deadline exceeded")
	}
}
