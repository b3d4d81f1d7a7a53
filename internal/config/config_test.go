package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 90*24*time.Hour, cfg.TombstoneRetention)
	assert.Equal(t, "0 3 * * *", cfg.RetentionCron)
	assert.Equal(t, 5*time.Second, cfg.GateVerifierTimeout)
	assert.Equal(t, 100, cfg.ChatDefaults.MaxEventsPerRead)
	assert.Nil(t, cfg.ChatDefaults.EventsTTL)
}

func TestLoadConfigEnvFile(t *testing.T) {
	path := writeFile(t, ".env", "JWT_SECRET=from-file\nPORT=9000\nTOMBSTONE_RETENTION=7d\n")
	t.Setenv("PORT", "9100")
	// godotenv.Load never overrides, so clear the keys the file sets.
	t.Setenv("JWT_SECRET", "")
	require.NoError(t, os.Unsetenv("JWT_SECRET"))
	t.Setenv("TOMBSTONE_RETENTION", "")
	require.NoError(t, os.Unsetenv("TOMBSTONE_RETENTION"))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, 7*24*time.Hour, cfg.TombstoneRetention)
}

func TestLoadConfigChatDefaultsFile(t *testing.T) {
	path := writeFile(t, "chats.yaml", `
member_limit: 500
events_ttl: 2d
history_visible_to_new_joiners: true
`)
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("CHAT_DEFAULTS_FILE", path)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	d := cfg.ChatDefaults
	assert.Equal(t, 500, d.MemberLimit)
	require.NotNil(t, d.EventsTTL)
	assert.Equal(t, 48*time.Hour, *d.EventsTTL)
	assert.True(t, d.HistoryVisibleToNewJoiners)
	assert.Equal(t, 100, d.MaxMessagesPerRead)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": ""}},
		{"short production secret", map[string]string{"ENV": "production"}},
		{"bad cron", map[string]string{"RETENTION_CRON": "every night"}},
		{"bad retention", map[string]string{"TOMBSTONE_RETENTION": "soon"}},
		{"negative retention", map[string]string{"TOMBSTONE_RETENTION": "-1h"}},
		{"bad burst", map[string]string{"RATE_LIMIT_BURST": "0"}},
		{"bad rps", map[string]string{"RATE_LIMIT_RPS": "fast"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "test-secret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig("")
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigRejectsBadDefaultsFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	t.Setenv("CHAT_DEFAULTS_FILE", writeFile(t, "a.yaml", "max_events_per_read: 0\n"))
	_, err := LoadConfig("")
	assert.Error(t, err)

	t.Setenv("CHAT_DEFAULTS_FILE", writeFile(t, "b.yaml", "events_ttl: [1, 2]\n"))
	_, err = LoadConfig("")
	assert.Error(t, err)

	t.Setenv("CHAT_DEFAULTS_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err = LoadConfig("")
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("90d")
	require.NoError(t, err)
	assert.Equal(t, 90*24*time.Hour, d)

	d, err = ParseDuration("36h")
	require.NoError(t, err)
	assert.Equal(t, 36*time.Hour, d)

	_, err = ParseDuration("xd")
	assert.Error(t, err)
}
