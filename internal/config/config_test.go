package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 64*1024, cfg.Server.MaxFrameBytes)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout())
	assert.False(t, cfg.Session.RequireLogin)
	assert.Equal(t, time.Duration(0), cfg.IdleTimeout())
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "Welcome to the Enterprise Booking System!", cfg.Session.WelcomeMessage)
	assert.Equal(t, ":9090", cfg.ListenAddr())
	assert.NoError(t, cfg.Validate())
}

func TestParseExpandsEnvAndSlots(t *testing.T) {
	t.Setenv("SLOTBOOK_TEST_TOKEN", "secret-token")

	cfg, err := Parse([]byte(`
server:
  port: 7000
session:
  require_login: true
  idle_timeout_seconds: 30
database:
  driver: memory
telegram:
  bot_token: ${SLOTBOOK_TEST_TOKEN}
  chat_ids: [1, 2]
slots:
  - start: 2026-11-02T09:00:00Z
    end: 2026-11-02T10:00:00Z
    description: Consultation
`))
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.True(t, cfg.Session.RequireLogin)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout())
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, "secret-token", cfg.Telegram.BotToken)
	assert.Equal(t, []int64{1, 2}, cfg.Telegram.ChatIDs)
	require.Len(t, cfg.Slots, 1)
	assert.Equal(t, time.Hour, cfg.Slots[0].End.Sub(cfg.Slots[0].Start))
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"driver": "database:\n  driver: postgres\n",
		"format": "logging:\n  format: xml\n",
		"port":   "server:\n  port: 70000\n",
		"slot": `slots:
  - start: 2026-11-02T10:00:00Z
    end: 2026-11-02T09:00:00Z
    description: backwards
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	dbPath := filepath.Join(dir, "nested", "slotbook.db")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  path: "+dbPath+"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dbPath, cfg.Database.Path)
	assert.DirExists(t, filepath.Dir(dbPath))

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
