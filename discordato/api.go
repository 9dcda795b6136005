package discordato

import (
	"context"
	cryprand "crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	pprofPrefix             = "/debug"
	apiPrefix               = "/api"
	apiPathPause            = "/pause"
	apiPathResume           = "/resume"
	apiPathQuit             = "/quit"
	apiPathLogin            = "/login"
	apiPathLogout           = "/logout"
	apiPathLoggedIn         = "/logged_in"
	apiHealthCheck          = "/healthz"
	apiPathConfig           = "/config"
	apiAdminSetup           = "/setup"
	apiPathSetupStatus      = "/setup/status"
	apiPathModules          = "/modules"
	apiPathModuleSettings   = "/modules/:name/settings"
	apiPathModuleReset      = "/modules/:name/settings/reset"
	apiPathRegisterCommands = "/discord/register_commands"

	apiPathInteractions        = "/interactions"
	apiPathKeywordFilterEvents = "/keyword_filter/events"
	apiPathPingEvents          = "/pinger/events"
	apiPathForwardedMessages   = "/reaction_forward/messages"
	apiPathProductIDs          = "/link_reaction/product_ids"
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"
)

var structValidator = validator.New()

var (
	Ascending  Sort = "asc"
	Descending Sort = "desc"
)

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
}

// API is the backend admin server: session-cookie auth over TLS, with
// endpoints for runtime config, per-module settings documents, and the
// event logs each module writes.
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	store               CookieStore
	loginRequestLimiter *rate.Limiter
	requestMetrics      map[string]int
	requestMetricsMu    sync.Mutex
	logger              *slog.Logger

	handlers *APIHandlers
}

// newAPI initializes the API: gin engine, session store, TLS config,
// middleware and routes.
func newAPI(d *Discordato, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	r := gin.New()

	api := &API{
		config:              config,
		engine:              r,
		requestMetrics:      map[string]int{},
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
	}
	apiHandlers := NewAPIHandlers(d)
	api.handlers = apiHandlers
	api.store = apiHandlers.store
	_ = r.Use(sessions.Sessions(sessionVarName, apiHandlers.store))

	tlsCfg, e := apiTLSConfig(config, setupLogger)
	if e != nil {
		return nil, fmt.Errorf("error loading SSL certs: %w", e)
	}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	api.httpServer = httpServer
	api.logger = setupLogger.With(loggerNameKey, "api")

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 && api.config.Development {
		corsConfig.AllowOrigins = []string{"*"}
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		metricMiddleware(api),
		cors.New(corsConfig),
	)

	r.POST(apiPathLogin, apiHandlers.loginHandler)
	r.GET(apiHealthCheck, apiHandlers.healthCheck)
	r.POST(apiPathLogout, apiHandlers.logoutHandler)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	r.POST(apiAdminSetup, apiHandlers.adminSetup)
	r.GET(apiPathSetupStatus, apiHandlers.setupStatus)

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(d))

	protected.GET(apiPathLoggedIn, apiHandlers.loggedIn)
	protected.GET(apiPathConfig, apiHandlers.getConfig)
	protected.PATCH(apiPathConfig, apiHandlers.updateRuntimeConfig)
	protected.GET(apiPathModules, apiHandlers.getModules)
	protected.GET(apiPathModuleSettings, apiHandlers.getModuleSettings)
	protected.PATCH(apiPathModuleSettings, apiHandlers.updateModuleSettings)
	protected.POST(apiPathModuleReset, apiHandlers.resetModuleSettings)
	protected.POST(apiPathPause, apiHandlers.botPause)
	protected.POST(apiPathResume, apiHandlers.botResume)
	protected.POST(apiPathQuit, apiHandlers.botQuit)
	protected.POST(apiPathRegisterCommands, apiHandlers.discordRegisterCommands)

	protected.GET(apiPathInteractions, apiHandlers.getInteractions)
	protected.GET(apiPathKeywordFilterEvents, apiHandlers.getKeywordFilterEvents)
	protected.GET(apiPathPingEvents, apiHandlers.getPingEvents)
	protected.GET(apiPathForwardedMessages, apiHandlers.getForwardedMessages)
	protected.GET(apiPathProductIDs, apiHandlers.getProductIDs)

	runtime.SetMutexProfileFraction(1)
	runtime.SetBlockProfileRate(1)
	return api, nil
}

// Serve listens on the configured address and serves the admin API over
// TLS until the server is shut down.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		a.listener = tls.NewListener(ln, a.httpServer.TLSConfig)
	}
	return a.httpServer.Serve(a.listener)
}

// getSessionUsername extracts the logged-in username from the request's
// session cookie.
func (a *API) getSessionUsername(c *gin.Context) (string, error) {
	session, err := a.store.Get(c.Request, sessionVarName)
	if err != nil {
		return "", err
	}
	value, ok := session.Values[sessionVarField]
	if !ok {
		return "", errors.New("no username in session")
	}
	username, ok := value.(string)
	if !ok {
		return "", errors.New("session username is not a string")
	}
	return username, nil
}

type CookieStore interface {
	sessions.Store
}

// cookieStore adapts the gorilla cookie store to the gin-contrib
// sessions.Store interface.
type cookieStore struct {
	*gsessions.CookieStore
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// APIHandlers contains the handlers for the various API endpoints.
type APIHandlers struct {
	d      *Discordato
	logger *slog.Logger
	store  CookieStore
}

// NewAPIHandlers sets up the session store and returns the handler set.
// If no API secret is configured, a random one is generated, and sessions
// won't persist across restarts.
func NewAPIHandlers(d *Discordato) *APIHandlers {
	logger := d.logger.With(loggerNameKey, "api")

	secretKey := derive64ByteKey(d.config.API.Secret)
	if d.config.API.Secret == "" {
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	}

	store := NewCookieStore(secretKey)
	opts := sessionOptions(d.config.API)
	store.Options(
		sessions.Options{
			HttpOnly: opts.HttpOnly,
			Secure:   opts.Secure,
			MaxAge:   opts.MaxAge,
			SameSite: opts.SameSite,
		},
	)
	return &APIHandlers{d: d, logger: logger, store: store}
}

// sessionOptions is the cookie policy for admin sessions. Development
// mode relaxes SameSite so a frontend on another origin can log in.
func sessionOptions(config *APIConfig) *gsessions.Options {
	sameSite := http.SameSiteStrictMode
	if config.Development {
		sameSite = http.SameSiteNoneMode
	}
	return &gsessions.Options{
		MaxAge:   int(config.SessionMaxAge.Seconds()),
		SameSite: sameSite,
		HttpOnly: true,
		Secure:   true,
	}
}

// setupStatus indicates whether the initial admin setup is still pending.
func (h *APIHandlers) setupStatus(c *gin.Context) {
	c.JSON(http.StatusOK, setupResponse{Required: h.d.pendingSetup.Load()})
}

// adminSetup handles the first-time admin credential setup. Only
// available while setup is pending.
func (h *APIHandlers) adminSetup(c *gin.Context) {
	h.d.cfgMu.Lock()
	defer h.d.cfgMu.Unlock()

	if !h.d.pendingSetup.Load() {
		c.JSON(http.StatusForbidden, httpError{Error: "Forbidden"})
		return
	}

	logger := ginContextLogger(c)
	logger.Info("first time admin setup")
	var adminSetup adminSetupPayload

	if e := c.ShouldBindJSON(&adminSetup); e != nil {
		logger.Error("bad payload", tint.Err(e))
		c.JSON(http.StatusBadRequest, gin.H{"error": e.Error()})
		return
	}

	currentState := h.d.runtimeConfig

	username := adminSetup.Username

	password, err := HashPassword(adminSetup.Password)
	if err != nil {
		logger.Error("error hashing password", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error setting admin credentials"},
		)
		return
	}

	if _, err = h.d.writeDB.Updates(
		context.Background(), currentState, map[string]any{
			columnRuntimeConfigAdminUsername: username,
			columnRuntimeConfigAdminPassword: password,
		},
	); err != nil {
		logger.Error("error updating admin credentials", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error updating admin credentials"},
		)
		return
	}
	h.d.runtimeConfig = currentState
	h.d.pendingSetup.Store(false)
	c.JSON(http.StatusCreated, gin.H{"message": "admin credentials set"})
}

// loginHandler validates the provided credentials against the stored
// admin credentials and creates a session. Login attempts are
// rate-limited.
func (h *APIHandlers) loginHandler(c *gin.Context) {
	logger := h.d.logger
	if logger == nil {
		logger = slog.Default()
	}
	if !h.d.api.loginRequestLimiter.Allow() {
		logger.Warn("login rate limited")

		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runtimeConfig := h.d.RuntimeConfig()
	if runtimeConfig.AdminUsername == "" || runtimeConfig.AdminPassword == "" {
		logger.Warn("admin username and password not set")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if login.Username != runtimeConfig.AdminUsername {
		logger.Warn("admin username incorrect")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	valid, err := verifyPassword(runtimeConfig.AdminPassword, login.Password)
	if err != nil {
		logger.Error("error verifying password", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "Internal Server Error"},
		)
		return
	}
	if !valid {
		logger.Warn("invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	session, err := h.d.api.store.New(c.Request, sessionVarName)
	if err != nil || session == nil {
		logger.Error("error creating session", tint.Err(err))
		if stale, _ := h.store.Get(c.Request, sessionVarName); stale != nil {
			stale.Values[sessionVarField] = ""
			_ = stale.Save(c.Request, c.Writer)
		}
		ginReplyError(c, "internal server error")
		return
	}

	session.Options = sessionOptions(h.d.api.config)
	session.Values[sessionVarField] = login.Username
	if err = session.Save(c.Request, c.Writer); err != nil {
		logger.Error("error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	logger.Info("saved user session", "username", login.Username)
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	h.d.cfgMu.RLock()
	paused := h.d.runtimeConfig != nil && h.d.runtimeConfig.Paused
	h.d.cfgMu.RUnlock()

	c.JSON(
		http.StatusOK, healthCheckResponse{
			Paused:                  paused,
			PendingSetup:            h.d.pendingSetup.Load(),
			DiscordGatewayConnected: h.d.discord.connected.Load(),
			Uptime:                  time.Since(h.d.startedAt).String(),
			Version:                 Version,
		},
	)
}

func (h *APIHandlers) logoutHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	session, err := h.store.Get(c.Request, sessionVarName)
	if err != nil {
		logger.Error("error getting session", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	session.Values[sessionVarField] = ""
	if err = session.Save(c.Request, c.Writer); err != nil {
		logger.Error("error saving cookie", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

func (h *APIHandlers) loggedIn(c *gin.Context) {
	username, err := h.d.api.getSessionUsername(c)
	if err != nil {
		ginContextLogger(c).Warn("error getting session username", tint.Err(err))
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, loggedInResponse{Username: username})
}

// discordRegisterCommands re-registers the bot's slash commands with
// discord. Needed after changing module commands, since discord caches
// the application command set.
func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	log := ginContextLogger(c)
	log.Info("registering commands")

	createdCommands, err := h.d.RegisterSlashCommands()
	if err != nil {
		log.Error("error registering commands", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error registering commands"})
		return
	}
	c.JSON(http.StatusCreated, createdCommands)
}

// getConfig returns the bot's current runtime configuration.
func (h *APIHandlers) getConfig(c *gin.Context) {
	botState := h.d.RuntimeConfig()
	c.JSON(http.StatusOK, botState)
}

// updateRuntimeConfig applies a partial update to the runtime config,
// persists it, and notifies other bot instances to reload.
// payloadToUpdateMap converts a partial-update payload into a column
// map, dropping fields the payload omitted.
func payloadToUpdateMap(payload any) (map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var updates map[string]any
	if err = json.Unmarshal(data, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	d := h.d
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()

	ctx := context.Background()

	var updateRequest RuntimeConfigUpdate
	logger := ginContextLogger(c)
	if err := c.ShouldBindJSON(&updateRequest); err != nil {
		logger.Error("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := updateRequest.validate(); err != nil {
		logger.Error("invalid update", tint.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existingConfig := d.runtimeConfig
	rollbackConfig := *existingConfig

	// round-trip through JSON so only fields present in the payload land
	// in the gorm update map
	updates, err := payloadToUpdateMap(updateRequest)
	if err != nil {
		logger.ErrorContext(c, "error building update map", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error applying update"})
		return
	}
	logger.InfoContext(c, "applying runtime config updates", "updates", updates)

	statusCode := http.StatusAccepted
	var ginResponse gin.H

	updateErr := h.d.writeDB.Transaction(
		ctx,
		func(tx *gorm.DB) error {
			if e := tx.Model(existingConfig).Updates(updates).Error; e != nil {
				statusCode = http.StatusInternalServerError
				ginResponse = gin.H{"error": "error updating config"}
				return e
			}
			if e := structValidator.Struct(existingConfig); e != nil {
				statusCode = http.StatusBadRequest
				ginResponse = gin.H{"error": "error validating config"}
				return e
			}
			return nil
		},
	)
	if updateErr != nil {
		h.d.runtimeConfig = &rollbackConfig
		logger.ErrorContext(c, "error updating config", tint.Err(updateErr))
		c.JSON(statusCode, ginResponse)
		return
	}

	d.setRuntimeLevels(*existingConfig)
	d.setRateLimits(*existingConfig)

	switch {
	case rollbackConfig.Paused && !existingConfig.Paused:
		logger.Info("unpaused bot")
	case existingConfig.Paused && !rollbackConfig.Paused:
		logger.Warn("paused bot")
	}

	updateDiscordBotStatus(d, logger, rollbackConfig, *existingConfig)

	c.JSON(http.StatusAccepted, existingConfig)

	sent := h.d.dbNotifier.ReloadRuntimeConfig(ctx)
	if !sent {
		logger.Error("error sending config update notification")
	}
}

// getModules lists the registered feature modules, their enabled state
// and registered slash commands.
func (h *APIHandlers) getModules(c *gin.Context) {
	modules := h.d.modules.Modules()
	payload := make([]moduleInfo, 0, len(modules))
	for _, m := range modules {
		info := moduleInfo{
			Name:    m.Name(),
			Enabled: m.Enabled(),
		}
		for _, cmd := range m.Commands() {
			info.Commands = append(info.Commands, cmd.Name)
		}
		payload = append(payload, info)
	}
	c.JSON(http.StatusOK, payload)
}

// getModuleSettings returns the full settings document for a module.
func (h *APIHandlers) getModuleSettings(c *gin.Context) {
	name := c.Param("name")
	m, ok := h.d.modules.Module(name)
	if !ok {
		c.JSON(http.StatusNotFound, httpError{Error: "module not found"})
		return
	}
	c.JSON(http.StatusOK, m.Settings().Document())
}

// updateModuleSettings applies top-level updates to a module's settings
// document and notifies other bot instances to reload it.
func (h *APIHandlers) updateModuleSettings(c *gin.Context) {
	log := ginContextLogger(c)
	name := c.Param("name")
	m, ok := h.d.modules.Module(name)
	if !ok {
		c.JSON(http.StatusNotFound, httpError{Error: "module not found"})
		return
	}

	var updates map[string]any
	if err := c.ShouldBindJSON(&updates); err != nil {
		log.Warn("bad request", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if len(updates) == 0 {
		c.JSON(http.StatusAccepted, m.Settings().Document())
		return
	}

	log.Info("updating module settings", "module", m.Name(), "updates", updates)
	if err := m.Settings().Update(updates, true); err != nil {
		log.Error("error updating settings", tint.Err(err))
		ginReplyError(c, "error updating settings")
		return
	}
	c.JSON(http.StatusAccepted, m.Settings().Document())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if !h.d.dbNotifier.SettingsUpdated(ctx, m.Name()) {
		log.Error("error sending settings update notification")
	}
}

// resetModuleSettings restores a module's settings document to its
// defaults.
func (h *APIHandlers) resetModuleSettings(c *gin.Context) {
	log := ginContextLogger(c)
	name := c.Param("name")
	m, ok := h.d.modules.Module(name)
	if !ok {
		c.JSON(http.StatusNotFound, httpError{Error: "module not found"})
		return
	}

	if err := m.Settings().Reset(true); err != nil {
		log.Error("error resetting settings", tint.Err(err))
		ginReplyError(c, "error resetting settings")
		return
	}
	c.JSON(http.StatusOK, m.Settings().Document())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if !h.d.dbNotifier.SettingsUpdated(ctx, m.Name()) {
		log.Error("error sending settings update notification")
	}
}

// setPaused flips the runtime config's paused column and updates the
// bot's discord presence.
func (h *APIHandlers) setPaused(c *gin.Context, paused bool) bool {
	d := h.d
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()

	log := ginContextLogger(c)
	if d.runtimeConfig.Paused == paused {
		return false
	}

	rollbackConfig := *d.runtimeConfig
	if _, err := d.writeDB.Update(
		context.Background(),
		d.runtimeConfig,
		columnRuntimeConfigPaused,
		paused,
	); err != nil {
		log.Error("error updating paused state", tint.Err(err))
		ginReplyError(c, "error updating paused state")
		return false
	}
	d.runtimeConfig.Paused = paused
	updateDiscordBotStatus(d, log, rollbackConfig, *d.runtimeConfig)

	if !d.dbNotifier.ReloadRuntimeConfig(context.Background()) {
		log.Error("error sending config update notification")
	}
	return true
}

func (h *APIHandlers) botPause(c *gin.Context) {
	if h.setPaused(c, true) {
		ginReplyMessage(c, "bot paused")
		return
	}
	if !c.Writer.Written() {
		c.AbortWithStatusJSON(
			http.StatusConflict,
			httpError{Error: "bot already paused"},
		)
	}
}

func (h *APIHandlers) botResume(c *gin.Context) {
	if h.setPaused(c, false) {
		ginReplyMessage(c, "bot resumed")
		return
	}
	if !c.Writer.Written() {
		c.AbortWithStatusJSON(http.StatusConflict, httpError{Error: "bot not paused"})
	}
}

// botQuit sends a stop signal to all bot instances, initiating
// shutdown.
func (h *APIHandlers) botQuit(c *gin.Context) {
	log := ginContextLogger(c)
	log.Warn("sending stop signal")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	doneCh := make(chan struct{}, 1)
	go func() {
		h.d.dbNotifier.Stop(ctx)
		doneCh <- struct{}{}
		close(doneCh)
	}()
	select {
	case <-doneCh:
		ginReplyMessage(c, "quitting")
	case <-ctx.Done():
		log.Warn("timeout sending stop signal")
		c.JSON(http.StatusGatewayTimeout, httpError{Error: "timeout sending stop signal"})
	}
}

func (h *APIHandlers) getInteractions(c *gin.Context) {
	listRecords[InteractionLog](h, c, "error getting interactions")
}

func (h *APIHandlers) getKeywordFilterEvents(c *gin.Context) {
	listRecords[KeywordFilterEvent](h, c, "error getting filter events")
}

func (h *APIHandlers) getPingEvents(c *gin.Context) {
	listRecords[PingEvent](h, c, "error getting ping events")
}

func (h *APIHandlers) getForwardedMessages(c *gin.Context) {
	listRecords[ForwardedMessage](h, c, "error getting forwarded messages")
}

func (h *APIHandlers) getProductIDs(c *gin.Context) {
	listRecords[ProductIDRecord](h, c, "error getting product IDs")
}

// listRecords is the shared paginated listing for the per-module event
// log endpoints.
func listRecords[T any](h *APIHandlers, c *gin.Context, errMsg string) {
	var pagination GetEventsQuery
	if err := c.ShouldBindQuery(&pagination); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid pagination"})
		return
	}

	if pagination.Order == "" {
		pagination.Order = Descending
	}
	if pagination.Limit == 0 {
		pagination.Limit = 25
	}

	log := ginContextLogger(c)

	var records []T
	query := h.d.db.Limit(pagination.Limit).Offset(pagination.Offset)

	if pagination.ChannelID != "" {
		query = query.Where("channel_id = ?", pagination.ChannelID)
	}
	if pagination.UserID != "" {
		query = query.Where("user_id = ?", pagination.UserID)
	}
	if pagination.StartDate != "" {
		startDate, err := time.Parse("2006-01-02", pagination.StartDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpError{Error: "invalid start_date format"})
			return
		}
		query = query.Where("created_at >= ?", startDate.UnixMilli())
	}
	if pagination.EndDate != "" {
		endDate, err := time.Parse("2006-01-02", pagination.EndDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpError{Error: "invalid end_date format"})
			return
		}
		// Add one day to include the entire end date
		endDate = endDate.Add(24 * time.Hour)
		query = query.Where("created_at < ?", endDate.UnixMilli())
	}

	switch pagination.Order {
	case Ascending:
		query = query.Order("id asc")
	default:
		query = query.Order("id desc")
	}

	if err := query.Find(&records).Error; err != nil {
		log.Error(errMsg, tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: errMsg})
		return
	}
	c.JSON(http.StatusOK, records)
}

// updateDiscordBotStatus updates the bot's discord presence when the
// paused state or custom status changed.
func updateDiscordBotStatus(
	d *Discordato,
	logger *slog.Logger,
	oldState RuntimeConfig,
	currentState RuntimeConfig,
) {
	if !currentState.DiscordGatewayEnabled {
		return
	}
	switch {
	case currentState.Paused && !oldState.Paused:
		go func() {
			if err := d.discord.updateStatusComplex(
				discordgo.UpdateStatusData{
					AFK:    true,
					Status: string(discordgo.StatusDoNotDisturb),
				},
			); err != nil {
				logger.Error("error updating discord status", tint.Err(err))
			}
		}()
	case (!currentState.Paused && oldState.Paused) ||
		currentState.DiscordCustomStatus != oldState.DiscordCustomStatus:
		go func() {
			if err := d.discord.updateCustomStatus(
				currentState.DiscordCustomStatus,
			); err != nil {
				logger.Error("error updating discord status", tint.Err(err))
			}
		}()
	}
}

// Sort represents the sorting order for queries.
type Sort string

// Pagination represents the pagination parameters for API requests.
type Pagination struct {
	Limit  int  `form:"limit" binding:"omitempty,min=1,max=100"`
	Order  Sort `form:"order" binding:"omitempty,oneof=asc desc"`
	Offset int  `form:"offset" binding:"omitempty,min=0"`
}

// GetEventsQuery represents the query parameters for the event log
// listing endpoints.
type GetEventsQuery struct {
	Pagination
	ChannelID string `form:"channel_id"`
	UserID    string `form:"user_id"`
	StartDate string `form:"start_date" binding:"omitempty,datetime=2006-01-02"`
	EndDate   string `form:"end_date" binding:"omitempty,datetime=2006-01-02"`
}

// moduleInfo is the listing entry returned by the modules endpoint.
type moduleInfo struct {
	Name     string   `json:"name"`
	Enabled  bool     `json:"enabled"`
	Commands []string `json:"commands,omitempty"`
}

// loggedInResponse is returned when a user is successfully logged in.
type loggedInResponse struct {
	Username string `json:"username"`
}

type healthCheckResponse struct {
	Paused                  bool   `json:"paused"`
	PendingSetup            bool   `json:"pending_setup"`
	DiscordGatewayConnected bool   `json:"discord_gateway_connected"`
	Uptime                  string `json:"uptime"`
	Version                 string `json:"version"`
}

// httpReply represents a standard HTTP response message.
type httpReply struct {
	Message string `json:"message"`
}

// httpError represents an error message returned to the client
type httpError struct {
	Error string `json:"error"`
}

// userLogin represents the payload for user login requests.
type userLogin struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// adminSetupPayload represents the payload for the initial admin setup.
type adminSetupPayload struct {
	Username        string `json:"username" binding:"required"`
	Password        string `json:"password" binding:"required,eqfield=ConfirmPassword"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// setupResponse is the response struct for the 'setup status'
// endpoint. If an admin username/password haven't been set yet,
// Required will be true, indicating setup is needed.
type setupResponse struct {
	Required bool `json:"required"`
}

// authMiddleware aborts with 401 for requests without an authenticated
// session, or while the initial admin setup is still pending.
func authMiddleware(d *Discordato) gin.HandlerFunc {
	return func(c *gin.Context) {
		store := d.api.store
		logger := d.logger
		if logger == nil {
			logger = slog.Default()
		}
		if d.pendingSetup.Load() {
			logger.Warn("admin username and password not set")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		session, err := store.Get(c.Request, sessionVarName)
		if err != nil {
			logger.Error("error getting session", tint.Err(err))
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		if session == nil {
			logger.Error("session is nil")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		username, ok := session.Values[sessionVarField]

		if !ok || username == "" {
			logger.Warn(
				"username not found in session",
				"headers",
				c.Request.Header,
			)
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware assigns a unique request ID to each incoming
// request, for tracking and logging purposes.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, requestID)
		c.Header(xRequestIDHeader, requestID)
		c.Next()
	}
}

// ginContextLogger returns the request-scoped slog.Logger for the gin
// context, creating and caching one annotated with request details on
// first use.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if existing, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, isLogger := existing.(*slog.Logger); isLogger {
			return requestLogger
		}
	}

	path := c.Request.URL.Path
	if query := c.Request.URL.RawQuery; query != "" {
		path = path + "?" + query
	}
	requestID, _ := c.Get(xRequestIDHeader)
	requestLogger := slog.Default().With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
			"referer", c.Request.Referer(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request's method, path, duration and
// response status.
func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestLogger := ginContextLogger(c)

		c.Next()

		attrs := []any{
			"duration", time.Since(start),
			slog.Group(
				"response",
				"status_code", c.Writer.Status(),
				"body_size", c.Writer.Size(),
			),
		}
		var errs []error
		for _, ginErr := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *ginErr)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				append(attrs, "errors", errs)...,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			attrs...,
		)
	}
}

// metricMiddleware increments the request count for each unique
// combination of HTTP method and URL path.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		_, ok := a.requestMetrics[key]
		if !ok {
			a.requestMetrics[key] = 1
			return
		}
		a.requestMetrics[key]++
	}
}

// apiTLSConfig loads the configured cert and key, or generates a
// self-signed certificate when none are configured.
func apiTLSConfig(config *APIConfig, logger *slog.Logger) (*tls.Config, error) {
	if config.SSL.Cert != "" && config.SSL.Key != "" {
		return tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
	}

	logger.Warn("no SSL cert/key configured, generating a self-signed certificate")
	tmpDir, err := os.MkdirTemp("", "discordato-tls")
	if err != nil {
		return nil, err
	}
	cert, err := generateSelfSignedCert(
		filepath.Join(tmpDir, "cert.pem"),
		filepath.Join(tmpDir, "key.pem"),
	)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   config.SSL.TLSMinVersion,
		ClientAuth:   tls.NoClientCert,
	}, nil
}

// generateSelfSignedCert generates a self-signed TLS certificate and
// private key, valid from the current time for 1 year.
func generateSelfSignedCert(
	certFile string,
	keyFile string,
) (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(cryprand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	certTemplate := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Discordato"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(
		cryprand.Reader,
		&certTemplate,
		&certTemplate,
		&priv.PublicKey,
		priv,
	)
	if err != nil {
		return tls.Certificate{}, err
	}

	writePEM := func(path, blockType string, data []byte) error {
		out, createErr := os.Create(path)
		if createErr != nil {
			return createErr
		}
		defer func() {
			_ = out.Close()
		}()
		return pem.Encode(out, &pem.Block{Type: blockType, Bytes: data})
	}
	if err = writePEM(certFile, "CERTIFICATE", derBytes); err != nil {
		return tls.Certificate{}, err
	}
	if err = writePEM(
		keyFile, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(priv),
	); err != nil {
		return tls.Certificate{}, err
	}

	return tls.LoadX509KeyPair(certFile, keyFile)
}

// ginReplyMessage sends a JSON response with a message,
// with HTTP status code 200, via the gin context.
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError sends a JSON response with a message,
// with HTTP status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
