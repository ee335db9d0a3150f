package blanco

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/LangkaWS/Blanco-Discord-Bot/blanco.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var defaultLogWriter io.Writer = os.Stdout

// Blanco is the bot: its discord session, database, command registry and
// optional status API.
type Blanco struct {
	config *Config

	db      *gorm.DB
	writeDB DBI

	logger     *slog.Logger
	logHandler slog.Handler

	discord   *Discord
	api       *API
	registry  *CommandRegistry
	router    *Router
	collector *componentCollector

	birthdays     *Birthdays
	birthdayStore BirthdayStore

	commands     []*CommandDefinition
	commandsOnce sync.Once

	// commandDirectory is the remote command set. When nil, it's
	// created from the discord session on startup.
	commandDirectory CommandDirectory
	lastReconcile    atomic.Pointer[ReconcileReport]
	reconcileMu      sync.Mutex

	signalReady chan struct{}
	startedAt   time.Time
	runMu       sync.Mutex
	runtimeWG   *sync.WaitGroup

	// getInteractionHandlerFunc wraps an incoming interaction for
	// dispatch. It's swapped out in tests.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New creates a bot from config. Errors found while setting up components
// are joined and returned together.
func New(config *Config) (*Blanco, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres, dbTypeMySQL:
		//
	default:
		errs = append(
			errs,
			fmt.Errorf("%w: %q", ErrUnknownDatabaseType, config.DatabaseType),
		)
	}

	b := &Blanco{
		config:      config,
		signalReady: make(chan struct{}, 1),
		registry:    NewCommandRegistry(),
		collector:   newComponentCollector(),
		runtimeWG:   &sync.WaitGroup{},
	}

	b.logHandler = newLogHandler(b.config.LogLevel)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(b.config.Discord.DiscordGoLogLevel),
	)

	b.discord = newDiscord(
		b.config.Discord,
		slog.New(newLogHandler(b.config.Discord.LogLevel)).With(loggerNameKey, "discord"),
	)
	b.router = NewRouter(
		b.registry,
		b.collector,
		defaultCommandPermissions,
		b.config.Discord.ErrorMessage,
		b.logger.With(loggerNameKey, "router"),
	)

	api, err := newAPI(b, b.config.API)
	if err != nil {
		errs = append(errs, err)
	}
	b.api = api

	return b, errors.Join(errs...)
}

func (b *Blanco) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// Run starts the bot and blocks until ctx is canceled. On startup, it
// connects to the database and reconciles the bot's slash commands with
// discord (registering them for dispatch) before opening the gateway, so
// no interaction can be routed before its command is registered.
func (b *Blanco) Run(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if err := b.ValidateConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx = WithLogger(ctx, b.logger)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.startedAt = time.Now().UTC()
	b.logger.InfoContext(
		ctx,
		"starting",
		"version", Version,
		"commit", CommitSHA,
		"build_time", BuildTime,
		"config", b.config,
	)

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		initErr <- b.initRun(startCtx)
	}()
	select {
	case err := <-initErr:
		if err != nil {
			return errors.Join(err, b.shutdown(ctx))
		}
	case <-startCtx.Done():
		return fmt.Errorf("startup timed out: %w", startCtx.Err())
	}

	b.initDiscordSession(ctx)

	if b.config.API.Enabled {
		b.runtimeWG.Add(1)
		go func() {
			defer b.runtimeWG.Done()
			if err := b.api.Serve(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.logger.ErrorContext(ctx, "api server error", tint.Err(err))
				cancel()
			}
		}()
	}

	if err := b.discord.session.Open(); err != nil {
		cancel()
		return errors.Join(
			fmt.Errorf("error opening discord session: %w", err),
			b.shutdown(ctx),
		)
	}

	b.signalReady <- struct{}{}

	<-ctx.Done()
	return b.shutdown(ctx)
}

// initRun connects to the database, creates the discord session and
// reconciles commands
func (b *Blanco) initRun(ctx context.Context) error {
	if err := b.initDB(ctx); err != nil {
		return err
	}

	if b.discord.session == nil {
		session, err := b.discord.newSession()
		if err != nil {
			return err
		}
		b.discord.session = session
	}

	_, err := b.Reconcile(ctx)
	return err
}

// Reconcile synchronizes the bot's commands with discord, registering
// them for dispatch. Passes are serialized: a call made while another
// pass is running waits for it, then fetches the updated remote state.
func (b *Blanco) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	b.reconcileMu.Lock()
	defer b.reconcileMu.Unlock()

	directory := b.commandDirectory
	if directory == nil {
		directory = newDiscordCommandDirectory(b.discord.session, b.config.Discord)
	}
	registrar := NewRegistrar(
		directory,
		b.registry,
		b.discord.logger,
		b.config.Discord.ReconcileConcurrency,
	)
	report, err := registrar.Reconcile(ctx, b.commandDefinitions())
	if err != nil {
		return nil, err
	}
	b.lastReconcile.Store(report)
	return report, nil
}

// Sync runs a single reconciliation pass, without connecting to the
// database or the gateway.
func (b *Blanco) Sync(ctx context.Context) (*ReconcileReport, error) {
	if err := b.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if b.discord.session == nil {
		session, err := b.discord.newSession()
		if err != nil {
			return nil, err
		}
		b.discord.session = session
	}
	return b.Reconcile(WithLogger(ctx, b.logger))
}

// LastReconcile returns the report of the most recent reconciliation pass
func (b *Blanco) LastReconcile() *ReconcileReport {
	return b.lastReconcile.Load()
}

func (b *Blanco) initDB(ctx context.Context) error {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = b.logger
	}

	dsn, err := b.config.DSN()
	if err != nil {
		return err
	}

	gormLogger := newGORMLogger(
		newLogHandler(b.config.DatabaseLogLevel),
		b.config.DatabaseSlowThreshold,
	)
	db, err := getDB(b.config.DatabaseType, dsn, gormLogger)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}

	if b.config.DatabaseType == dbTypeSQLite {
		if err = configureSQLite(ctx, db); err != nil {
			return err
		}
	}

	logger.DebugContext(ctx, "migrating database")
	if err = migrate(ctx, db); err != nil {
		logger.ErrorContext(ctx, "error migrating database", tint.Err(err))
		return err
	}

	b.db = db
	b.writeDB = NewDatabase(
		db,
		logger.With(loggerNameKey, "database"),
		b.config.DatabaseType != dbTypeSQLite,
	)
	b.birthdayStore = newBirthdayStore(b.db, b.writeDB)
	b.birthdays = NewBirthdays(b.birthdayStore, logger.With(loggerNameKey, "birthdays"))
	return nil
}

func (b *Blanco) initDiscordSession(ctx context.Context) {
	logger := b.logger.With(loggerNameKey, "discord_session")
	ctx = WithLogger(ctx, logger)

	for _, h := range b.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	b.discord.session.SetIdentify(
		discordgo.Identify{Intents: b.config.Discord.GatewayIntents},
	)

	b.discord.discordgoRemoveHandlerFuncs = []func(){
		b.discord.session.AddHandler(b.discord.handlerConnect()),
		b.discord.session.AddHandler(b.discord.handlerDisconnect()),
		b.discord.session.AddHandler(b.discord.handlerReady()),
		b.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := b.getInteractionHandlerFunc(ctx, i)
				b.runtimeWG.Add(1)
				go func() {
					defer b.runtimeWG.Done()
					b.handleInteraction(ctx, handler)
				}()
			},
		),
	}

	if b.getInteractionHandlerFunc == nil {
		b.getInteractionHandlerFunc = b.newGatewayHandler
	}
}

func (b *Blanco) newGatewayHandler(
	_ context.Context,
	i *discordgo.InteractionCreate,
) InteractionHandler {
	return &GatewayHandler{
		session:     b.discord.session,
		interaction: i,
		collector:   b.collector,
		botUserID:   b.discord.BotUserID(),
		logger: b.logger.With(
			slog.Group("interaction", interactionLogAttrs(i)...),
		),
	}
}

// handleInteraction records the interaction and hands it to the router
func (b *Blanco) handleInteraction(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	ctx = WithLogger(ctx, logger)

	defer func() {
		if rc := recover(); rc != nil {
			b.handleRecover(ctx, rc)
		}
	}()

	if b.writeDB != nil {
		if interactionLog, err := newInteractionLog(i, getDiscordUser(i)); err != nil {
			logger.ErrorContext(ctx, "error creating interaction log", tint.Err(err))
		} else {
			b.runtimeWG.Add(1)
			go func() {
				defer b.runtimeWG.Done()
				if _, dbErr := b.writeDB.Create(context.WithoutCancel(ctx), interactionLog); dbErr != nil {
					logger.ErrorContext(ctx, "error saving interaction log", tint.Err(dbErr))
				}
			}()
		}
	}

	b.router.Handle(ctx, handler)
}

// handleRecover logs a recovered panic, with its stack trace
func (*Blanco) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())

	switch v := rc.(type) {
	case error:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(v), "stack_trace", stackTrace)
	case string:
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(errors.New(v)),
			"stack_trace", stackTrace,
		)
	default:
		logger.ErrorContext(ctx, "recovered from panic", "panic_arg", rc, "stack_trace", stackTrace)
	}
}

// shutdown closes the gateway, waits up to Config.ShutdownTimeout for
// in-flight interactions, then closes the API server and database.
func (b *Blanco) shutdown(ctx context.Context) error {
	b.logger.WarnContext(ctx, "shutting down", "shutdown_timeout", b.config.ShutdownTimeout)

	var errs []error
	if b.discord.session != nil {
		if err := b.discord.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing discord session: %w", err))
		}
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), b.config.ShutdownTimeout)
	defer closeCancel()

	if b.api != nil && b.api.httpServer != nil {
		if err := b.api.httpServer.Shutdown(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("error shutting down api: %w", err))
			_ = b.api.httpServer.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		b.runtimeWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.InfoContext(ctx, "finished handling in-flight interactions")
	case <-closeCtx.Done():
		errs = append(errs, errors.New("in-flight interactions did not finish in time"))
	}

	if b.db != nil {
		if sqlDB, err := b.db.DB(); err == nil {
			if closeErr := sqlDB.Close(); closeErr != nil {
				errs = append(errs, fmt.Errorf("error closing database: %w", closeErr))
			}
		}
	}

	return errors.Join(errs...)
}

// InteractionHandler wraps a single received interaction, and the means
// to reply to it.
type InteractionHandler interface {
	// Respond sends the initial response to the interaction.
	Respond(ctx context.Context, response *discordgo.InteractionResponse) error

	// Responded reports whether Respond has succeeded
	Responded() bool

	// Edit modifies the interaction response.
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// GetInteraction returns the original InteractionCreate event.
	GetInteraction() *discordgo.InteractionCreate

	// BotPermissions returns the bot's permissions in the channel the
	// interaction was sent from.
	BotPermissions(ctx context.Context) (int64, error)

	// CollectComponents returns the values of buttons clicked on the
	// interaction's response by the invoking user. The returned func
	// stops collecting.
	CollectComponents() (<-chan string, func())

	Logger() *slog.Logger
}

// GatewayHandler implements [InteractionHandler] for interactions
// received via the discord websocket gateway.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	collector   *componentCollector
	botUserID   string
	logger      *slog.Logger
	responded   atomic.Bool
}

func (w *GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(
		w.interaction.Interaction,
		response,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
		return err
	}
	w.responded.Store(true)
	w.logger.DebugContext(ctx, "responded to interaction")
	return nil
}

func (w *GatewayHandler) Responded() bool {
	return w.responded.Load()
}

func (w *GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w *GatewayHandler) Edit(
	ctx context.Context,
	wh *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponseEdit(
		w.interaction.Interaction,
		wh,
		append(opts, discordgo.WithContext(ctx))...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	} else {
		w.logger.DebugContext(ctx, "edited interaction")
	}
	return msg, err
}

// BotPermissions prefers the permissions discord sends along with the
// interaction, and asks the API otherwise.
func (w *GatewayHandler) BotPermissions(ctx context.Context) (int64, error) {
	if w.interaction.AppPermissions != 0 {
		return w.interaction.AppPermissions, nil
	}
	if w.botUserID == "" {
		return 0, errors.New("bot user ID unknown, gateway not ready")
	}
	return w.session.UserChannelPermissions(
		w.botUserID,
		w.interaction.ChannelID,
		discordgo.WithContext(ctx),
	)
}

func (w *GatewayHandler) CollectComponents() (<-chan string, func()) {
	var userID string
	if u := getDiscordUser(w.interaction); u != nil {
		userID = u.ID
	}
	return w.collector.register(w.interaction.ID, userID)
}

func (w *GatewayHandler) Logger() *slog.Logger {
	return w.logger
}
