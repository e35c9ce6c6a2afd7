package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := NewViper()
	v.Set("platform.handle", "@Ava")

	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "Ava", c.Platform.Handle)
	assert.Equal(t, 280, c.Platform.MaxPostLength)
	assert.Equal(t, 40, c.Poll.BatchSize)
	assert.Equal(t, time.Minute, c.Poll.MinInterval)
	assert.Equal(t, 2*time.Minute, c.Poll.MaxInterval)
	assert.Equal(t, 10, c.ThreadMaxDepth)
	assert.Equal(t, 90*time.Minute, c.Post.MinInterval)
	assert.Equal(t, 20*time.Second, c.Composer.MinDelay)
	assert.Equal(t, "json", c.Storage.Driver)
	assert.NotEmpty(t, c.AgentID)
	assert.False(t, c.TelegramEnabled())
}

func TestAgentIDIsStablePerHandle(t *testing.T) {
	load := func(handle string) string {
		v := NewViper()
		v.Set("platform.handle", handle)
		c, err := Load(v)
		require.NoError(t, err)
		return c.AgentID
	}
	assert.Equal(t, load("ava"), load("AVA"))
	assert.NotEqual(t, load("ava"), load("bob"))
}

func TestLoadFromEnvAndFile(t *testing.T) {
	t.Setenv("PRESENCE_PLATFORM_HANDLE", "envhandle")
	t.Setenv("PRESENCE_POLL_MIN_INTERVAL", "30s")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg")
	t.Setenv("TELEGRAM_CHAT_ID", "123")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: sqlite\ncomposer:\n  split_replies: true\n"), 0o644))

	v := NewViper()
	require.NoError(t, ReadFile(v, path))
	c, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "envhandle", c.Platform.Handle)
	assert.Equal(t, 30*time.Second, c.Poll.MinInterval)
	assert.Equal(t, "sqlite", c.Storage.Driver)
	assert.True(t, c.Composer.SplitReplies)
	assert.True(t, c.TelegramEnabled())
}

func TestValidate(t *testing.T) {
	v := NewViper()
	_, err := Load(v)
	assert.ErrorContains(t, err, "platform.handle")

	v.Set("platform.handle", "ava")
	v.Set("poll.min_interval", "5m")
	_, err = Load(v)
	assert.ErrorContains(t, err, "poll")

	v.Set("poll.min_interval", "1m")
	v.Set("storage.driver", "mongo")
	_, err = Load(v)
	assert.ErrorContains(t, err, "storage.driver")
}

func TestReadFileMissing(t *testing.T) {
	assert.NoError(t, ReadFile(NewViper(), ""))
	assert.Error(t, ReadFile(NewViper(), filepath.Join(t.TempDir(), "nope.yaml")))
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestSetupLoggerWithWritersFansOut(t *testing.T) {
	var stderr, file bytes.Buffer
	logger, err := SetupLoggerWithWriters(&stderr, &file, "text", slog.LevelInfo)
	require.NoError(t, err)

	logger.Info("reply_sent", "post_id", "100")
	logger.Debug("hidden")

	assert.Contains(t, stderr.String(), "msg=reply_sent")
	assert.NotContains(t, stderr.String(), "hidden")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &rec))
	assert.Equal(t, "reply_sent", rec["msg"])
	assert.Equal(t, "100", rec["post_id"])
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	logger, cleanup, err := SetupLogger(path, "json", slog.LevelInfo)
	require.NoError(t, err)
	logger.Info("poll_done")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"poll_done"`)

	_, _, err = SetupLogger("", "xml", slog.LevelInfo)
	assert.Error(t, err)
}
