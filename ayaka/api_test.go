package ayaka

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBot(t *testing.T) *Bot {
	t.Helper()
	tmpdir := t.TempDir()

	migrationsDir := filepath.Join(tmpdir, "migrations")
	require.NoError(t, os.MkdirAll(migrationsDir, 0755))
	for name, contents := range map[string]string{
		"V1__create_things.sql": "CREATE TABLE things (id INTEGER PRIMARY KEY, name TEXT);",
		"V2__seed_things.sql":   "INSERT INTO things (name) VALUES ('first');",
	} {
		require.NoError(
			t,
			os.WriteFile(
				filepath.Join(migrationsDir, name),
				[]byte(contents),
				0644,
			),
		)
	}

	cfg := DefaultConfig()
	cfg.Database = filepath.Join(tmpdir, "ayaka.sqlite3")
	cfg.MigrationsDir = migrationsDir
	cfg.API.Listen = "127.0.0.1:0"

	bot, err := New(cfg)
	require.NoError(t, err)
	return bot
}

func TestGetHealth(t *testing.T) {
	t.Parallel()
	bot := testBot(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, apiPathHealth, nil)
	bot.api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, Version, body["version"])
}

func TestGetSchema(t *testing.T) {
	t.Parallel()
	bot := testBot(t)
	ctx := context.Background()

	report, err := bot.Migrate(ctx)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, report.Applied)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, apiPathSchema, nil)
	bot.api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body schemaStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.CurrentVersion)
	require.Len(t, body.Applied, 2)
	assert.Equal(t, 1, body.Applied[0].Version)
	assert.Equal(t, 2, body.Applied[1].Version)
	assert.Equal(t, "create things", body.Applied[0].Description)
}

func TestGetSchemaBeforeDatabaseOpens(t *testing.T) {
	t.Parallel()
	bot := testBot(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, apiPathSchema, nil)
	bot.api.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
