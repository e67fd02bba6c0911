package ayaka

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLogValueRedactsToken(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Discord.Token = "super-secret-token"

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("starting", "config", cfg)

	output := buf.String()
	require.NotEmpty(t, output)
	assert.NotContains(t, output, "super-secret-token")
	assert.Contains(t, output, "[redacted]")
	assert.Contains(t, output, "ayaka.sqlite3")
}
