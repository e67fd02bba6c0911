package ayaka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/lmaotrigine/Ayaka/ayaka.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var defaultLogWriter io.Writer = os.Stdout

// Bot is the main application. It owns the database connection, the
// migration runner, the (optional) discord gateway session, and the
// status API.
//
// The bot's startup contract: the schema is migrated to the latest known
// version before anything else runs. A migration failure aborts startup -
// the bot never serves with a partial or stale schema.
type Bot struct {
	config *Config

	db       *gorm.DB
	migrator *Migrator

	// Standard logger. Missing loggers fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	discord *Discord
	api     *API

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	// signalReady has a value sent on it once migrations have finished
	// and the gateway/API are up
	signalReady chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time
}

// New creates a Bot from the given config. The config is validated here;
// the database isn't touched until Run or Migrate.
func New(config *Config) (*Bot, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := structValidator.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	b := &Bot{
		config:      config,
		signalStop:  make(chan struct{}, 1),
		signalReady: make(chan struct{}, 1),
	}

	b.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	disc, err := newDiscord(config.Discord)
	if err != nil {
		return nil, err
	}
	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)
	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")
	b.discord = disc

	if config.API.Enabled {
		api, apiErr := newAPI(b, config.API)
		if apiErr != nil {
			return nil, apiErr
		}
		b.api = api
	}

	return b, nil
}

// Stop sends an explicit stop signal to a running bot.
func (b *Bot) Stop() {
	select {
	case b.signalStop <- struct{}{}:
	default:
	}
}

// openDB opens the gorm connection and creates the migration runner, if
// that hasn't happened yet.
func (b *Bot) openDB(ctx context.Context) error {
	if b.db != nil {
		return nil
	}
	db, err := CreateDB(
		ctx,
		b.config.DatabaseType,
		b.config.Database,
		b.config.DatabaseLogLevel,
		b.config.DatabaseSlowThreshold,
	)
	if err != nil {
		return err
	}
	b.db = db
	b.migrator = NewMigrator(db, b.logger)
	return nil
}

// scriptSource returns the migration script source to use: a directory on
// disk when migrations_dir is configured, otherwise the scripts embedded
// in the binary.
func (b *Bot) scriptSource() (ScriptSource, error) {
	if b.config.MigrationsDir != "" {
		return DirSource(b.config.MigrationsDir)
	}
	return EmbeddedSource(), nil
}

// Migrate opens the database if needed and applies all pending migrations,
// halting at the first failure. The report is non-nil even on error.
func (b *Bot) Migrate(ctx context.Context) (*MigrationReport, error) {
	if err := b.openDB(ctx); err != nil {
		return nil, err
	}
	source, err := b.scriptSource()
	if err != nil {
		return nil, err
	}
	scripts, err := source.Scripts()
	if err != nil {
		return nil, err
	}
	return b.migrator.Run(ctx, scripts)
}

// PendingMigrations returns the scripts that would be applied by Migrate,
// in order, without applying anything.
func (b *Bot) PendingMigrations(ctx context.Context) ([]MigrationScript, error) {
	if err := b.openDB(ctx); err != nil {
		return nil, err
	}
	source, err := b.scriptSource()
	if err != nil {
		return nil, err
	}
	scripts, err := source.Scripts()
	if err != nil {
		return nil, err
	}
	return b.migrator.Pending(ctx, scripts)
}

// Run starts the bot: migrate the schema, connect to discord (when a
// token is configured), serve the status API, and block until the context
// is canceled or Stop is called.
func (b *Bot) Run(ctx context.Context) error {
	// prevents concurrent runs
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.startedAt = time.Now()
	logger := b.logger
	logger.Info("starting", "config", b.config)

	startupCtx, startupCancel := context.WithTimeout(
		ctx,
		b.config.StartupTimeout,
	)
	defer startupCancel()

	report, err := b.Migrate(startupCtx)
	if err != nil {
		logger.Error(
			"schema migration failed, aborting startup",
			tint.Err(err),
		)
		return err
	}
	if len(report.Applied) > 0 {
		logger.Info("schema migrated", "applied", report.Applied)
	}

	gatewayEnabled := b.config.Discord.Token != ""
	if gatewayEnabled {
		if err = b.discord.open(); err != nil {
			logger.Error("error opening discord session", tint.Err(err))
			return err
		}
		defer func() {
			if closeErr := b.discord.close(); closeErr != nil {
				logger.Warn("error closing discord session", tint.Err(closeErr))
			}
		}()
	} else {
		logger.Warn("no discord token configured, gateway disabled")
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	apiErrCh := make(chan error, 1)
	if b.api != nil {
		go func() {
			apiErrCh <- b.api.Serve(runCtx)
		}()
	}

	select {
	case b.signalReady <- struct{}{}:
	default:
	}
	logger.Info("ready", "gateway", gatewayEnabled, "schema_version", b.currentVersion(runCtx))

	var runErr error
	apiDone := false
	select {
	case <-ctx.Done():
		logger.Info("context canceled, shutting down")
	case <-b.signalStop:
		logger.Info("received stop signal, shutting down")
	case apiErr := <-apiErrCh:
		apiDone = true
		if apiErr != nil {
			logger.Error("status api failed", tint.Err(apiErr))
			runErr = apiErr
		}
	}

	runCancel()
	if !apiDone {
		b.shutdown(apiErrCh)
	}
	return runErr
}

// currentVersion is a logging helper - failures are reported as version 0.
func (b *Bot) currentVersion(ctx context.Context) int {
	if b.migrator == nil {
		return 0
	}
	version, _, err := b.migrator.CurrentVersion(ctx)
	if err != nil {
		return 0
	}
	return version
}

// shutdown waits for the API server to finish, bounded by ShutdownTimeout.
func (b *Bot) shutdown(apiErrCh <-chan error) {
	if b.api == nil {
		return
	}
	timer := time.NewTimer(b.config.ShutdownTimeout)
	defer timer.Stop()
	select {
	case err := <-apiErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Warn("status api shutdown error", tint.Err(err))
		}
	case <-timer.C:
		b.logger.Warn("shutdown timeout elapsed")
	}
}
