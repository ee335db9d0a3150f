//nolint:lll // struct tags can't be split
package blanco

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/caarlos0/env/v11"
	"github.com/gin-contrib/cors"
	"github.com/go-sql-driver/mysql"
)

const (
	EnvvarSetEnvPrefix     = "BLANCO_ENV_PREFIX"
	DefaultEnvPrefix       = "BLANCO"
	DefaultDatabaseType    = dbTypeSQLite
	DefaultDatabase        = "blanco.sqlite3"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDiscordGatewayIntent       = discordgo.IntentsGuilds
	DefaultDiscordLogLevel            = slog.LevelWarn
	DefaultDiscordConfirmationTimeout = 60 * time.Second
	DefaultDiscordErrorMessage        = "An error occurred while executing the command."
	DefaultDiscordRequestTimeout      = 20 * time.Second
	DefaultAPIListen                  = "127.0.0.1:5000"
	DefaultAPITLSMinVersion           = tls.VersionTLS12
	DefaultAPIReconcileInterval       = time.Minute

	DefaultDatabaseSlowThreshold   = 200 * time.Millisecond
	DefaultDatabaseLogLevel        = slog.LevelInfo
	DefaultDiscordgoLogLevel       = slog.LevelWarn
	DefaultAPILogLevel             = slog.LevelInfo
	defaultListenNetwork           = "tcp"
	DefaultAPICORSAllowCredentials = false

	defaultPostgresPort = 5432
	defaultMySQLPort    = 3306
	defaultMySQLParams  = "charset=utf8mb4&parseTime=True&loc=UTC"
)

var ErrUnknownDatabaseType = errors.New("unknown database type")

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Database connection string. For sqlite, this is the path to the
	// database file. For postgres and mysql, it may be left empty, in which
	// case it's built from DatabaseConnection.
	Database string `yaml:"database" mapstructure:"database" json:"database" log:"[redacted]"`

	// DatabaseType specifies the type of database: 'sqlite', 'postgres' or 'mysql'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres mysql"`

	// DatabaseConnection holds discrete connection parameters, used when
	// Database isn't set and DatabaseType isn't sqlite
	DatabaseConnection *DatabaseConnectionConfig `yaml:"database_connection" mapstructure:"database_connection" json:"database_connection"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// API configures the status/admin API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// connect to the database and synchronize its commands.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for in-flight interactions to
	// finish before connections are force closed.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DSN returns the connection string for the configured database type.
// An explicit Database value always wins.
func (c Config) DSN() (string, error) {
	if c.Database != "" {
		return c.Database, nil
	}
	conn := c.DatabaseConnection
	if conn == nil || conn.Host == "" {
		return "", fmt.Errorf("no database or database_connection.host set for %q", c.DatabaseType)
	}

	switch c.DatabaseType {
	case dbTypePostgres:
		port := conn.Port
		if port == 0 {
			port = defaultPostgresPort
		}
		u := &url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(conn.User, conn.Password),
			Host:     net.JoinHostPort(conn.Host, strconv.Itoa(port)),
			Path:     "/" + conn.Name,
			RawQuery: conn.Params,
		}
		return u.String(), nil
	case dbTypeMySQL:
		port := conn.Port
		if port == 0 {
			port = defaultMySQLPort
		}
		params := conn.Params
		if params == "" {
			params = defaultMySQLParams
		}
		values, err := url.ParseQuery(params)
		if err != nil {
			return "", fmt.Errorf("invalid mysql params: %w", err)
		}
		// parsed from an escaped DSN, so values like loc=Europe/Paris
		// are applied to the driver config
		dsn, err := mysql.ParseDSN("/?" + values.Encode())
		if err != nil {
			return "", fmt.Errorf("invalid mysql params: %w", err)
		}
		dsn.User = conn.User
		dsn.Passwd = conn.Password
		dsn.Net = "tcp"
		dsn.Addr = net.JoinHostPort(conn.Host, strconv.Itoa(port))
		dsn.DBName = conn.Name
		return dsn.FormatDSN(), nil
	case dbTypeSQLite:
		return "", errors.New("database must be set to a file path for sqlite")
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDatabaseType, c.DatabaseType)
	}
}

// ApplyLegacyEnv fills settings left empty from the environment variable
// names used by earlier deployments of the bot (DISCORD_CLIENT_TOKEN,
// DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME). When DB_HOST is found and
// no database type other than the default was chosen, mysql is assumed.
func (c *Config) ApplyLegacyEnv() error {
	var legacy struct {
		Token    string `env:"DISCORD_CLIENT_TOKEN"`
		Database DatabaseConnectionConfig
	}
	if err := env.Parse(&legacy); err != nil {
		return fmt.Errorf("parsing legacy environment: %w", err)
	}

	if c.Discord == nil {
		c.Discord = &DiscordConfig{}
	}
	if c.Discord.Token == "" {
		c.Discord.Token = legacy.Token
	}

	if legacy.Database.Host == "" {
		return nil
	}
	if c.DatabaseConnection == nil {
		c.DatabaseConnection = &DatabaseConnectionConfig{}
	}
	conn := c.DatabaseConnection
	if conn.Host == "" {
		conn.Host = legacy.Database.Host
	}
	if conn.Port == 0 {
		conn.Port = legacy.Database.Port
	}
	if conn.User == "" {
		conn.User = legacy.Database.User
	}
	if conn.Password == "" {
		conn.Password = legacy.Database.Password
	}
	if conn.Name == "" {
		conn.Name = legacy.Database.Name
	}
	if c.DatabaseType == dbTypeSQLite && c.Database == DefaultDatabase {
		c.DatabaseType = dbTypeMySQL
		c.Database = ""
	}
	return nil
}

// DatabaseConnectionConfig holds discrete connection settings for a
// network database (postgres, mysql).
type DatabaseConnectionConfig struct {
	Host     string `yaml:"host" mapstructure:"host" json:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" mapstructure:"port" json:"port" env:"DB_PORT" binding:"min=0,max=65535"`
	User     string `yaml:"user" mapstructure:"user" json:"user" env:"DB_USER"`
	Password string `yaml:"password" mapstructure:"password" json:"password" env:"DB_PASSWORD" log:"[redacted]"`
	Name     string `yaml:"name" mapstructure:"name" json:"name" env:"DB_NAME"`

	// Raw query string appended to the generated DSN (ex: "sslmode=disable")
	Params string `yaml:"params" mapstructure:"params" json:"params"`
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// How long a yes/no confirmation waits for a button click
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout" mapstructure:"confirmation_timeout" json:"confirmation_timeout" binding:"min=1s"`

	// Maximum number of concurrent create/edit/delete calls while
	// synchronizing commands. 0=unlimited
	ReconcileConcurrency int `yaml:"reconcile_concurrency" mapstructure:"reconcile_concurrency" json:"reconcile_concurrency" binding:"min=0"`

	// Timeout for each request to discord's REST API. 0=no timeout
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" binding:"min=0"`

	// Custom status shown after connecting to the gateway
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Reply used when a command handler fails
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message" binding:"required"`

	// httpClient replaces the client built from RequestTimeout
	httpClient *http.Client
}

// APIConfig configures the status/admin API server
type APIConfig struct {
	// Enables the API server
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Bearer token required on /api routes
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]" binding:"required_if=Enabled true"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Minimum interval between reconcile requests
	ReconcileInterval time.Duration `yaml:"reconcile_interval" mapstructure:"reconcile_interval" json:"reconcile_interval"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true"`

	// Enables pprof routes and disables gin's panic recovery
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	cfg := cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
	if len(cfg.AllowOrigins) == 0 {
		if cfg.AllowCredentials {
			cfg.AllowOriginFunc = func(string) bool { return false }
		} else {
			cfg.AllowAllOrigins = true
		}
	}
	return cfg
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     append([]string(nil), DefaultCORSAllowMethods...),
		AllowHeaders:     append([]string(nil), DefaultCORSAllowHeaders...),
		ExposeHeaders:    append([]string(nil), DefaultCORSExposeHeaders...),
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseConnection:    &DatabaseConnectionConfig{},
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			GatewayIntents:      DefaultDiscordGatewayIntent,
			LogLevel:            discordLogLevel,
			DiscordGoLogLevel:   discordgoLogLevel,
			ConfirmationTimeout: DefaultDiscordConfirmationTimeout,
			ErrorMessage:        DefaultDiscordErrorMessage,
			RequestTimeout:      DefaultDiscordRequestTimeout,
		},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			ReconcileInterval: DefaultAPIReconcileInterval,
			CORS:              DefaultCORSConfig(),
		},
	}
}
