package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/LangkaWS/Blanco-Discord-Bot/blanco"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = blanco.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "blanco [flags]",
	Short: "Blanco, a Discord bot that keeps track of birthdays",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := loadConfig(cfg); err != nil {
			log.Fatalln(err)
		}
	},
}

// loadConfig decodes viper's settings into c, then fills in anything
// still unset from the legacy (unprefixed) environment variables
func loadConfig(c *blanco.Config) error {
	err := viper.Unmarshal(
		c,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				LevelToStringHookFunc(),
			),
		),
	)
	if err != nil {
		return err
	}
	return c.ApplyLegacyEnv()
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes level names ("INFO", "debug", ...) into
// *slog.LevelVar fields
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("unable to load %s: %v", configFile, err)
		}
	}

	setDefaults()

	envPrefix := os.Getenv(blanco.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = blanco.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	for _, key := range []string{
		"api.cors.allow_headers",
		"api.cors.allow_origins",
		"api.cors.allow_methods",
		"api.cors.expose_headers",
	} {
		viper.Set(key, viper.GetStringSlice(key))
	}

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func setDefaults() {
	viper.SetDefault("database", blanco.DefaultDatabase)
	viper.SetDefault("database_type", blanco.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", blanco.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", blanco.DefaultDatabaseLogLevel.String())

	viper.SetDefault("database_connection.host", "")
	viper.SetDefault("database_connection.port", 0)
	viper.SetDefault("database_connection.user", "")
	viper.SetDefault("database_connection.password", "")
	viper.SetDefault("database_connection.name", "")
	viper.SetDefault("database_connection.params", "")

	viper.SetDefault("log_level", blanco.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", blanco.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", blanco.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.log_level", blanco.DefaultDiscordLogLevel.String())
	viper.SetDefault("discord.discordgo_log_level", blanco.DefaultDiscordgoLogLevel.String())
	viper.SetDefault("discord.gateway_intents", blanco.DefaultDiscordGatewayIntent)
	viper.SetDefault("discord.confirmation_timeout", blanco.DefaultDiscordConfirmationTimeout)
	viper.SetDefault("discord.reconcile_concurrency", 0)
	viper.SetDefault("discord.request_timeout", blanco.DefaultDiscordRequestTimeout)
	viper.SetDefault("discord.custom_status", "")
	viper.SetDefault("discord.error_message", blanco.DefaultDiscordErrorMessage)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", blanco.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.log_level", blanco.DefaultAPILogLevel.String())
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.reconcile_interval", blanco.DefaultAPIReconcileInterval)
	viper.SetDefault("api.read_timeout", blanco.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", blanco.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", blanco.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", blanco.DefaultIdleTimeout)

	// API: SSL config
	viper.SetDefault("api.ssl.cert", "")
	viper.SetDefault("api.ssl.key", "")
	viper.SetDefault("api.ssl.tls_min_version", blanco.DefaultAPITLSMinVersion)

	// API: CORS config
	viper.SetDefault("api.cors.allow_headers", blanco.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", blanco.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", blanco.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", blanco.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", blanco.DefaultAPICORSAllowCredentials)
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Path to a .env file to load",
	)
}
