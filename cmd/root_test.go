package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmaotrigine/Ayaka/ayaka"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLogLevel(t *testing.T, expected slog.Level, actual any) {
	t.Helper()
	levelVar, ok := actual.(*slog.LevelVar)
	require.Truef(t, ok, "expected *slog.LevelVar, got %T", actual)
	assert.Equal(t, expected, levelVar.Level())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)

	// Clear the environment before the test
	os.Clearenv()

	tmpdir := t.TempDir()

	// Set up the test environment file
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

AYAKA_DATABASE=/home/foo/ayaka.sqlite3
AYAKA_DATABASE_TYPE=sqlite
AYAKA_DATABASE_LOG_LEVEL=INFO
AYAKA_DATABASE_SLOW_THRESHOLD=200ms
AYAKA_MIGRATIONS_DIR=/home/foo/migrations
AYAKA_LOG_LEVEL=INFO
AYAKA_STARTUP_TIMEOUT=30s
AYAKA_SHUTDOWN_TIMEOUT=60s

# Discord bot config

AYAKA_DISCORD_TOKEN=your-discord-bot-token
AYAKA_DISCORD_CUSTOM_STATUS="counting semicolons"
AYAKA_DISCORD_LOG_LEVEL=WARN
AYAKA_DISCORD_DISCORDGO_LOG_LEVEL=WARN
AYAKA_DISCORD_GATEWAY_INTENTS=3243773

# Status API server

AYAKA_API_ENABLED=true
AYAKA_API_LISTEN=127.0.0.1:5015
AYAKA_API_LISTEN_NETWORK=tcp
AYAKA_API_LOG_LEVEL=DEBUG
AYAKA_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5015 https://localhost:5015
AYAKA_API_CORS_ALLOW_METHODS=GET OPTIONS HEAD
AYAKA_API_CORS_ALLOW_HEADERS=Origin Content-Length Content-Type Accept Cache-Control
AYAKA_API_CORS_ALLOW_CREDENTIALS=false
AYAKA_API_CORS_MAX_AGE=12h
AYAKA_API_READ_TIMEOUT=5s
AYAKA_API_READ_HEADER_TIMEOUT=5s
AYAKA_API_WRITE_TIMEOUT=10s
AYAKA_API_IDLE_TIMEOUT=30s
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/ayaka.sqlite3", cfg.Database)
	assert.Equal(t, "/home/foo/ayaka.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", viper.GetString("database_type"))

	assertLogLevel(t, slog.LevelInfo, viper.Get("database_log_level"))

	assert.Equal(t, 200*time.Millisecond, viper.GetDuration("database_slow_threshold"))
	assert.Equal(t, "/home/foo/migrations", viper.GetString("migrations_dir"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("startup_timeout"))
	assert.Equal(t, 60*time.Second, viper.GetDuration("shutdown_timeout"))

	assert.Equal(t, "your-discord-bot-token", viper.GetString("discord.token"))
	assert.Equal(t, "counting semicolons", viper.GetString("discord.custom_status"))

	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.discordgo_log_level"))
	assert.Equal(t, 3243773, viper.GetInt("discord.gateway_intents"))

	assert.True(t, viper.GetBool("api.enabled"))
	assert.Equal(t, "127.0.0.1:5015", viper.GetString("api.listen"))
	assert.Equal(t, "tcp", viper.GetString("api.listen_network"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5015", "https://localhost:5015"},
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	assert.Equal(
		t,
		[]string{"GET", "OPTIONS", "HEAD"},
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	assert.Equal(
		t,
		[]string{"GET", "OPTIONS", "HEAD"},
		cfg.API.CORS.AllowMethods,
	)
	assert.Equal(
		t,
		[]string{
			"Origin",
			"Content-Length",
			"Content-Type",
			"Accept",
			"Cache-Control",
		},
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	assert.False(t, viper.GetBool("api.cors.allow_credentials"))
	assert.Equal(t, 12*time.Hour, viper.GetDuration("api.cors.max_age"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_timeout"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_header_timeout"))
	assert.Equal(t, 10*time.Second, viper.GetDuration("api.write_timeout"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("api.idle_timeout"))

	// Unmarshal the configuration into an ayaka.Config struct
	var config ayaka.Config
	err = viper.Unmarshal(
		&config, viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
	assert.NoError(t, err)

	// Verify some key fields in the Config struct
	assert.Equal(t, "/home/foo/ayaka.sqlite3", config.Database)
	assert.Equal(t, "sqlite", config.DatabaseType)
	assert.Equal(t, slog.LevelInfo, config.DatabaseLogLevel.Level())
	assert.Equal(t, 200*time.Millisecond, config.DatabaseSlowThreshold)
	assert.Equal(t, "/home/foo/migrations", config.MigrationsDir)
	assert.Equal(t, slog.LevelInfo, config.LogLevel.Level())
	assert.Equal(t, 30*time.Second, config.StartupTimeout)
	assert.Equal(t, 60*time.Second, config.ShutdownTimeout)

	assert.Equal(t, "your-discord-bot-token", config.Discord.Token)
	assert.Equal(t, "counting semicolons", config.Discord.CustomStatus)
	assert.Equal(t, slog.LevelWarn, config.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelWarn, config.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, discordgo.Intent(3243773), config.Discord.GatewayIntents)

	assert.True(t, config.API.Enabled)
	assert.Equal(t, "127.0.0.1:5015", config.API.Listen)
	assert.Equal(t, "tcp", config.API.ListenNetwork)
	assert.Equal(t, slog.LevelDebug, config.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5015", "https://localhost:5015"},
		config.API.CORS.AllowOrigins,
	)
	assert.Equal(
		t,
		[]string{"GET", "OPTIONS", "HEAD"},
		config.API.CORS.AllowMethods,
	)
}

func TestLevelToStringHookFunc(t *testing.T) {
	hook := LevelToStringHookFunc()
	stringType := reflect.TypeOf("")
	levelVarType := reflect.TypeOf(&slog.LevelVar{})

	for _, tc := range []struct {
		input    string
		expected slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
	} {
		t.Run(
			tc.input, func(t *testing.T) {
				out, err := hook(stringType, levelVarType, tc.input)
				require.NoError(t, err)
				levelVar, ok := out.(*slog.LevelVar)
				require.True(t, ok)
				assert.Equal(t, tc.expected, levelVar.Level())
			},
		)
	}

	t.Run(
		"invalid level", func(t *testing.T) {
			_, err := hook(stringType, levelVarType, "LOUD")
			assert.Error(t, err)
		},
	)

	t.Run(
		"non-level types pass through", func(t *testing.T) {
			out, err := hook(stringType, stringType, "hello")
			require.NoError(t, err)
			assert.Equal(t, "hello", out)
		},
	)
}
