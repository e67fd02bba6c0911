package ayaka

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBotRunAndStop(t *testing.T) {
	t.Parallel()
	bot := testBot(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- bot.Run(ctx)
	}()

	select {
	case <-bot.signalReady:
		//
	case err := <-errCh:
		t.Fatalf("run exited early: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for the bot to become ready")
	}

	// the schema was migrated before the bot reported ready
	version, applied, err := bot.migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 2, version)

	bot.Stop()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for the bot to shut down")
	}
}

func TestBotRunAbortsOnMigrationFailure(t *testing.T) {
	t.Parallel()
	tmpdir := t.TempDir()

	migrationsDir := filepath.Join(tmpdir, "migrations")
	require.NoError(t, os.MkdirAll(migrationsDir, 0755))
	require.NoError(
		t,
		os.WriteFile(
			filepath.Join(migrationsDir, "V1__broken.sql"),
			[]byte("INSERT INTO no_such_table (id) VALUES (1);"),
			0644,
		),
	)

	cfg := DefaultConfig()
	cfg.Database = filepath.Join(tmpdir, "ayaka.sqlite3")
	cfg.MigrationsDir = migrationsDir
	cfg.API.Listen = "127.0.0.1:0"

	bot, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err = bot.Run(ctx)
	require.Error(t, err)

	var stmtErr *StatementError
	require.ErrorAs(t, err, &stmtErr)
	assert.Equal(t, 1, stmtErr.Version)

	// nothing was recorded in the ledger
	version, applied, verErr := bot.migrator.CurrentVersion(ctx)
	require.NoError(t, verErr)
	assert.False(t, applied)
	assert.Equal(t, 0, version)
}

func TestBotMigrateUsesEmbeddedScriptsByDefault(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Database = filepath.Join(t.TempDir(), "ayaka.sqlite3")
	cfg.API.Listen = "127.0.0.1:0"

	bot, err := New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	report, err := bot.Migrate(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Applied)

	pending, err := bot.PendingMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
