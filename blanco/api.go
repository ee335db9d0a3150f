package blanco

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const (
	pprofPrefix          = "/debug"
	apiPrefix            = "/api"
	apiHealthCheck       = "/healthz"
	apiPathCommands      = "/commands"
	apiPathBirthdays     = "/guilds/:guild_id/birthdays"
	apiPathBirthday      = "/guilds/:guild_id/birthdays/:user_id"
	apiPathInteractions  = "/interactions"
	apiPathReconcile     = "/discord/reconcile"
	apiDefaultPageLimit  = 25
	apiTokenIssuer       = "blanco"
	apiTokenIDLength     = 16
	apiRequestIDLength   = 32
	xRequestIDHeader     = "X-Request-ID"
	authorizationHeader  = "Authorization"
	bearerPrefix         = "Bearer "
	apiReconcileDeadline = 2 * time.Minute
	apiLoggerKey         = "api_logger"
)

var (
	structValidator = validator.New()

	ErrInvalidAPIToken = errors.New("invalid api token")
)

var (
	Ascending  Sort = "asc"
	Descending Sort = "desc"
)

// API is the optional admin/status HTTP server. Everything under /api
// requires a bearer token signed with APIConfig.Secret (see IssueAPIToken).
type API struct {
	config           *APIConfig
	httpServer       *http.Server
	listener         net.Listener
	engine           *gin.Engine
	reconcileLimiter *rate.Limiter
	logger           *slog.Logger

	handlers *APIHandlers
}

func newAPI(b *Blanco, config *APIConfig) (*API, error) {
	if config == nil {
		return nil, errors.New("api config not set")
	}
	logger := slog.New(newLogHandler(config.LogLevel)).With(loggerNameKey, "api")

	if config.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	limit := rate.Inf
	if config.ReconcileInterval > 0 {
		limit = rate.Every(config.ReconcileInterval)
	}
	api := &API{
		config:           config,
		engine:           r,
		reconcileLimiter: rate.NewLimiter(limit, 1),
		logger:           logger,
		handlers:         &APIHandlers{b: b},
	}

	var tlsCfg *tls.Config
	if config.SSL.Cert != "" && config.SSL.Key != "" {
		var err error
		tlsCfg, err = tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		cors.New(config.CORS.GINConfig()),
	)

	r.GET(apiHealthCheck, api.handlers.healthCheck)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(config.Secret))

	protected.GET(apiPathCommands, api.handlers.getCommands)
	protected.GET(apiPathBirthdays, api.handlers.getBirthdays)
	protected.GET(apiPathBirthday, api.handlers.getBirthday)
	protected.GET(apiPathInteractions, api.handlers.getInteractions)
	protected.POST(apiPathReconcile, api.reconcileRateLimit(), api.handlers.reconcile)

	return api, nil
}

// Serve listens on APIConfig.Listen until the server is shut down. The
// listener is wrapped with TLS when a certificate is configured.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		network := a.config.ListenNetwork
		if network == "" {
			network = "tcp"
		}
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, network, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "api listening", "address", a.listener.Addr().String())
	return a.httpServer.Serve(a.listener)
}

func (a *API) reconcileRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.reconcileLimiter.Allow() {
			c.AbortWithStatusJSON(
				http.StatusTooManyRequests,
				httpError{Error: "reconcile requested too recently"},
			)
			return
		}
		c.Next()
	}
}

type APIHandlers struct {
	b *Blanco
}

// healthCheck reports the gateway connection state, the number of
// registered commands and the outcome of the last reconciliation pass.
func (h *APIHandlers) healthCheck(c *gin.Context) {
	resp := healthCheckResponse{
		DiscordGatewayConnected: h.b.discord.connected.Load(),
		RegisteredCommands:      h.b.registry.Len(),
		LastReconcile:           h.b.LastReconcile(),
	}
	if !h.b.startedAt.IsZero() {
		resp.Uptime = time.Since(h.b.startedAt).Round(time.Second).String()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *APIHandlers) getCommands(c *gin.Context) {
	defs := h.b.registry.All()
	commands := make([]commandDetail, 0, len(defs))
	for _, def := range defs {
		detail := commandDetail{
			Name:        def.Name,
			Description: def.Description,
			Subcommands: []string{},
			Permissions: []string{},
		}
		for _, sub := range def.Subcommands {
			detail.Subcommands = append(detail.Subcommands, sub.Name)
		}
		for _, p := range def.EffectivePermissions(h.b.router.defaultPermissions) {
			detail.Permissions = append(detail.Permissions, permissionName(p))
		}
		commands = append(commands, detail)
	}
	c.JSON(http.StatusOK, commands)
}

func (h *APIHandlers) getBirthdays(c *gin.Context) {
	var query Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if query.Limit == 0 {
		query.Limit = apiDefaultPageLimit
	}
	if h.b.db == nil {
		c.JSON(http.StatusServiceUnavailable, httpError{Error: "database not ready"})
		return
	}

	logger := ginContextLogger(c)
	guildID := c.Param("guild_id")
	order := "month asc, day asc, user_id asc"
	if query.Order == Descending {
		order = "month desc, day desc, user_id desc"
	}

	var birthdays []Birthday
	err := h.b.db.WithContext(c.Request.Context()).
		Where("guild_id = ?", guildID).
		Order(order).
		Limit(query.Limit).
		Offset(query.Offset).
		Find(&birthdays).Error
	if err != nil {
		logger.Error("error getting birthdays", tint.Err(err))
		ginReplyError(c, "error getting birthdays")
		return
	}
	c.JSON(http.StatusOK, birthdays)
}

func (h *APIHandlers) getBirthday(c *gin.Context) {
	if h.b.birthdayStore == nil {
		c.JSON(http.StatusServiceUnavailable, httpError{Error: "database not ready"})
		return
	}
	logger := ginContextLogger(c)
	birthday, err := h.b.birthdayStore.GetByID(
		c.Request.Context(),
		c.Param("guild_id"),
		c.Param("user_id"),
	)
	if err != nil {
		logger.Error("error getting birthday", tint.Err(err))
		ginReplyError(c, "error getting birthday")
		return
	}
	if birthday == nil {
		c.JSON(http.StatusNotFound, httpError{Error: "birthday not found"})
		return
	}
	c.JSON(http.StatusOK, birthday)
}

func (h *APIHandlers) getInteractions(c *gin.Context) {
	var query GetInteractionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if query.Limit == 0 {
		query.Limit = apiDefaultPageLimit
	}
	if h.b.db == nil {
		c.JSON(http.StatusServiceUnavailable, httpError{Error: "database not ready"})
		return
	}

	logger := ginContextLogger(c)
	db := h.b.db.WithContext(c.Request.Context()).Model(&InteractionLog{})
	if query.UserID != "" {
		db = db.Where("user_id = ?", query.UserID)
	}
	if query.GuildID != "" {
		db = db.Where("guild_id = ?", query.GuildID)
	}
	if query.Command != "" {
		db = db.Where("command = ?", query.Command)
	}
	if query.Order == Ascending {
		db = db.Order("id asc")
	} else {
		db = db.Order("id desc")
	}

	var interactions []InteractionLog
	if err := db.Limit(query.Limit).Offset(query.Offset).Find(&interactions).Error; err != nil {
		logger.Error("error getting interactions", tint.Err(err))
		ginReplyError(c, "error getting interactions")
		return
	}
	c.JSON(http.StatusOK, interactions)
}

// reconcile runs a reconciliation pass, and replies with its report.
// Failed commands don't fail the request, they're listed in the report.
func (h *APIHandlers) reconcile(c *gin.Context) {
	logger := ginContextLogger(c)
	if h.b.discord.session == nil {
		c.JSON(http.StatusServiceUnavailable, httpError{Error: "discord session not ready"})
		return
	}
	logger.Info("reconciling commands")

	ctx, cancel := context.WithTimeout(
		WithLogger(c.Request.Context(), logger),
		apiReconcileDeadline,
	)
	defer cancel()

	report, err := h.b.Reconcile(ctx)
	if err != nil {
		logger.Error("error reconciling commands", tint.Err(err))
		ginReplyError(c, "error reconciling commands")
		return
	}
	c.JSON(http.StatusOK, report)
}

// Pagination represents the pagination parameters for API requests.
type Pagination struct {
	Limit  int  `form:"limit" binding:"omitempty,min=1,max=100"`
	Order  Sort `form:"order" binding:"omitempty,oneof=asc desc"`
	Offset int  `form:"offset" binding:"omitempty,min=0"`
}

type GetInteractionsQuery struct {
	Pagination
	UserID  string `form:"user_id"`
	GuildID string `form:"guild_id"`
	Command string `form:"command"`
}

// Sort is the order results are returned in, either Ascending or Descending
type Sort string

type healthCheckResponse struct {
	DiscordGatewayConnected bool             `json:"discord_gateway_connected"`
	RegisteredCommands      int              `json:"registered_commands"`
	LastReconcile           *ReconcileReport `json:"last_reconcile"`
	Uptime                  string           `json:"uptime,omitempty"`
}

type commandDetail struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Subcommands []string `json:"subcommands"`
	Permissions []string `json:"permissions"`
}

type httpError struct {
	Error string `json:"error"`
}

// apiTokenClaims are the claims of an API bearer token
type apiTokenClaims struct {
	jwt.RegisteredClaims
}

// IssueAPIToken returns a bearer token for the API, signed with secret
// and valid for ttl.
func IssueAPIToken(secret string, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("api secret not set")
	}
	id, err := generateRandomHexString(apiTokenIDLength)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	claims := apiTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    apiTokenIssuer,
			Subject:   subject,
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// parseAPIToken verifies token's signature, issuer and expiry
func parseAPIToken(secret string, token string) (*apiTokenClaims, error) {
	var claims apiTokenClaims
	_, err := jwt.ParseWithClaims(
		token,
		&claims,
		func(*jwt.Token) (any, error) {
			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(apiTokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAPIToken, err)
	}
	return &claims, nil
}

// authMiddleware rejects requests without a valid bearer token
func authMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		header := c.GetHeader(authorizationHeader)
		token, found := strings.CutPrefix(header, bearerPrefix)
		if !found || token == "" || secret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		claims, err := parseAPIToken(secret, token)
		if err != nil {
			logger.Warn("rejected api token", tint.Err(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		c.Set(string(loggerContextKey), logger.With("token_subject", claims.Subject))
		c.Next()
	}
}

// requestIDMiddleware assigns a random ID to each request, returned in
// the X-Request-ID header and included in request logs
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(apiRequestIDLength)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets it in the context so the next call returns the same logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, isLogger := v.(*slog.Logger); isLogger {
			return requestLogger
		}
	}
	requestLogger := slog.Default()
	if v, ok := c.Get(apiLoggerKey); ok {
		if base, isLogger := v.(*slog.Logger); isLogger {
			requestLogger = base
		}
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger = requestLogger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request once it completes, with its
// duration and response status
func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Set(apiLoggerKey, logger)
		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, e.Err)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs,
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

// ginReplyError aborts with a 500 status and the given error message
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
	structValidator.RegisterStructValidation(validateBirthday, Birthday{})
}
