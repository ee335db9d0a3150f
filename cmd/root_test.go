package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

// clearEnv empties the environment for the duration of the test
func clearEnv(t testing.TB) {
	t.Helper()
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				_ = os.Setenv(parts[0], parts[1])
			}
		},
	)
	os.Clearenv()
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	clearEnv(t)

	tmpdir := t.TempDir()
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

BLANCO_DATABASE=/home/foo/blanco.sqlite3
BLANCO_DATABASE_TYPE=sqlite
BLANCO_DATABASE_LOG_LEVEL=INFO
BLANCO_DATABASE_SLOW_THRESHOLD=200ms
BLANCO_LOG_LEVEL=INFO
BLANCO_STARTUP_TIMEOUT=30s
BLANCO_SHUTDOWN_TIMEOUT=60s

# Discord bot config

BLANCO_DISCORD_TOKEN=your-discord-bot-token
BLANCO_DISCORD_APPLICATION_ID=your-discord-bot-app-id
BLANCO_DISCORD_GUILD_ID=123456789
BLANCO_DISCORD_LOG_LEVEL=WARN
BLANCO_DISCORD_DISCORDGO_LOG_LEVEL=WARN
BLANCO_DISCORD_GATEWAY_INTENTS=1
BLANCO_DISCORD_CONFIRMATION_TIMEOUT=30s
BLANCO_DISCORD_RECONCILE_CONCURRENCY=4
BLANCO_DISCORD_REQUEST_TIMEOUT=15s
BLANCO_DISCORD_CUSTOM_STATUS="Counting candles"
BLANCO_DISCORD_ERROR_MESSAGE="Oops"

# API server

BLANCO_API_ENABLED=true
BLANCO_API_LISTEN=127.0.0.1:5050
BLANCO_API_SSL_CERT=/etc/ssl/cert.pem
BLANCO_API_SSL_KEY=/etc/ssl/key.pem
BLANCO_API_SSL_TLS_MIN_VERSION=771
BLANCO_API_SECRET=your-api-secret
BLANCO_API_LOG_LEVEL=DEBUG
BLANCO_API_RECONCILE_INTERVAL=5m
BLANCO_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
BLANCO_API_CORS_ALLOW_METHODS=GET POST OPTIONS
BLANCO_API_CORS_ALLOW_CREDENTIALS=true
BLANCO_API_CORS_MAX_AGE=12h
BLANCO_API_READ_TIMEOUT=5s
BLANCO_API_READ_HEADER_TIMEOUT=5s
BLANCO_API_WRITE_TIMEOUT=10s
BLANCO_API_IDLE_TIMEOUT=30s
`

	require.NoError(t, os.WriteFile(envFile, []byte(envContent), 0o644))

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/blanco.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", viper.GetString("database_type"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("database_log_level"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))

	assert.Equal(t, "/home/foo/blanco.sqlite3", cfg.Database)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, 200*time.Millisecond, cfg.DatabaseSlowThreshold)
	assert.Equal(t, 30*time.Second, cfg.StartupTimeout)
	assert.Equal(t, 60*time.Second, cfg.ShutdownTimeout)

	assert.Equal(t, "your-discord-bot-token", cfg.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", cfg.Discord.ApplicationID)
	assert.Equal(t, "123456789", cfg.Discord.GuildID)
	assert.Equal(t, slog.LevelWarn, cfg.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelWarn, cfg.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, discordgo.Intent(1), cfg.Discord.GatewayIntents)
	assert.Equal(t, 30*time.Second, cfg.Discord.ConfirmationTimeout)
	assert.Equal(t, 4, cfg.Discord.ReconcileConcurrency)
	assert.Equal(t, 15*time.Second, cfg.Discord.RequestTimeout)
	assert.Equal(t, "Counting candles", cfg.Discord.CustomStatus)
	assert.Equal(t, "Oops", cfg.Discord.ErrorMessage)

	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:5050", cfg.API.Listen)
	assert.Equal(t, "/etc/ssl/cert.pem", cfg.API.SSL.Cert)
	assert.Equal(t, "/etc/ssl/key.pem", cfg.API.SSL.Key)
	assert.Equal(t, uint16(771), cfg.API.SSL.TLSMinVersion)
	assert.Equal(t, "your-api-secret", cfg.API.Secret)
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(t, 5*time.Minute, cfg.API.ReconcileInterval)
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		cfg.API.CORS.AllowOrigins,
	)
	assert.Equal(t, []string{"GET", "POST", "OPTIONS"}, cfg.API.CORS.AllowMethods)
	assert.True(t, cfg.API.CORS.AllowCredentials)
	assert.Equal(t, 12*time.Hour, cfg.API.CORS.MaxAge)
	assert.Equal(t, 5*time.Second, cfg.API.ReadTimeout)
	assert.Equal(t, 5*time.Second, cfg.API.ReadHeaderTimeout)
	assert.Equal(t, 10*time.Second, cfg.API.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.API.IdleTimeout)
}

func TestGetLogLevel(t *testing.T) {
	for _, tc := range []struct {
		input    string
		expected slog.Level
		wantErr  bool
	}{
		{input: "DEBUG", expected: slog.LevelDebug},
		{input: "info", expected: slog.LevelInfo},
		{input: "Warn", expected: slog.LevelWarn},
		{input: "ERROR", expected: slog.LevelError},
		{input: "loud", expected: slog.LevelInfo, wantErr: true},
	} {
		t.Run(
			tc.input, func(t *testing.T) {
				lvl, err := getLogLevel(tc.input)
				if tc.wantErr {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
				}
				assert.Equal(t, tc.expected, lvl)
			},
		)
	}
}
