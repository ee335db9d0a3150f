package blanco

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	// discordMaxButtonsPerActionRow defines the maximum number of buttons
	// allowed per action row in Discord interactions.
	discordMaxButtonsPerActionRow = 5

	// discordMaxActionRows defines the maximum number of action rows on a
	// single message.
	discordMaxActionRows = 5

	discordMaxEmbedDescriptionLength = 4096
)

// Discord holds the gateway session and its connection state.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	botUserID                   atomic.Value
	discordgoRemoveHandlerFuncs []func()
}

func newDiscord(config *DiscordConfig, logger *slog.Logger) *Discord {
	return &Discord{
		config:                      config,
		logger:                      logger,
		discordgoRemoveHandlerFuncs: []func(){},
	}
}

func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = false
	session.session = disc
	session.SetHTTPClient(d.httpClient())

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}
	return session, nil
}

// httpClient returns the client used for discord REST requests
func (d *Discord) httpClient() *http.Client {
	if d.config.httpClient != nil {
		return d.config.httpClient
	}
	return &http.Client{Timeout: d.config.RequestTimeout}
}

// BotUserID returns the bot's user ID, once the gateway has sent Ready
func (d *Discord) BotUserID() string {
	id, _ := d.botUserID.Load().(string)
	return id
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			d.botUserID.Store(r.User.ID)
		}
		d.logger.Info(
			"Blanco is ready to work!",
			"session_id", r.SessionID,
			"guilds", len(r.Guilds),
		)
		if d.config.CustomStatus != "" {
			if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
				d.logger.Warn("unable to set custom status", tint.Err(err))
			}
		}
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		d.logger.Info("connected", "connects", d.metricConnects.Load())
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		d.logger.Info("disconnected", "disconnects", d.metricDisconnects.Load())
	}
}

// DiscordSessionHandler is the subset of *discordgo.Session used by the bot
type DiscordSessionHandler interface {
	Open() error

	Close() error

	AddHandler(handler any) func()

	ApplicationCommands(
		appID string,
		guildID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	ApplicationCommandCreate(
		appID string,
		guildID string,
		cmd *discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) (*discordgo.ApplicationCommand, error)

	ApplicationCommandEdit(
		appID string,
		guildID string,
		cmdID string,
		cmd *discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) (*discordgo.ApplicationCommand, error)

	ApplicationCommandDelete(
		appID string,
		guildID string,
		cmdID string,
		options ...discordgo.RequestOption,
	) error

	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	UserChannelPermissions(
		userID string,
		channelID string,
		options ...discordgo.RequestOption,
	) (int64, error)

	UpdateCustomStatus(status string) error

	SetHTTPClient(client *http.Client)

	SetIdentify(discordgo.Identify)

	SetLogLevel(lvl slog.Level) error
}

// DiscordSession implements DiscordSessionHandler over *discordgo.Session,
// logging failed requests
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) ApplicationCommands(
	appID string,
	guildID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	cmds, err := d.session.ApplicationCommands(appID, guildID, options...)
	if err != nil {
		d.logger.Error("error fetching commands", tint.Err(err), "guild_id", guildID)
	}
	return cmds, err
}

func (d DiscordSession) ApplicationCommandCreate(
	appID string,
	guildID string,
	cmd *discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) (*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandCreate(appID, guildID, cmd, options...)
	if err != nil {
		d.logger.Error("error creating command", tint.Err(err), "command", cmd.Name)
	}
	return created, err
}

func (d DiscordSession) ApplicationCommandEdit(
	appID string,
	guildID string,
	cmdID string,
	cmd *discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) (*discordgo.ApplicationCommand, error) {
	edited, err := d.session.ApplicationCommandEdit(appID, guildID, cmdID, cmd, options...)
	if err != nil {
		d.logger.Error(
			"error editing command",
			tint.Err(err),
			"command", cmd.Name,
			"command_id", cmdID,
		)
	}
	return edited, err
}

func (d DiscordSession) ApplicationCommandDelete(
	appID string,
	guildID string,
	cmdID string,
	options ...discordgo.RequestOption,
) error {
	err := d.session.ApplicationCommandDelete(appID, guildID, cmdID, options...)
	if err != nil {
		d.logger.Error("error deleting command", tint.Err(err), "command_id", cmdID)
	}
	return err
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) UserChannelPermissions(
	userID string,
	channelID string,
	options ...discordgo.RequestOption,
) (int64, error) {
	return d.session.UserChannelPermissions(userID, channelID, options...)
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
}

// getDiscordUser returns the user who triggered the interaction, whether
// it came from a guild (Member) or a DM (User)
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}
