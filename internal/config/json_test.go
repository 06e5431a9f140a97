package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	path := writeTempJSON(t, map[string]any{
		"account_endpoint": "accounts.example:9000",
		"idle_timeout":     "10m",
		"s3_bucket":        "keys",
	})

	t.Run("loads from flags", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", path}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "accounts.example:9000", cfg.AccountEndpoint)
		assert.Equal(t, 10*time.Minute, cfg.IdleTimeout)
		assert.Equal(t, "keys", cfg.S3Bucket)
		// absent keys keep defaults
		assert.Equal(t, 15*time.Minute, cfg.LockoutWindow)
		assert.Equal(t, "gophnotes.db", cfg.DatabasePath)
	})

	t.Run("no config flag → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{AccountEndpoint: "defaults:1234", IdleTimeout: 42 * time.Second}
		parseJson(cfg)

		assert.Equal(t, "defaults:1234", cfg.AccountEndpoint)
		assert.Equal(t, 42*time.Second, cfg.IdleTimeout)
	})

	t.Run("flags override json", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", path, "-a", "flag:1"}

		cfg := LoadConfig()
		assert.Equal(t, "flag:1", cfg.AccountEndpoint)
		assert.Equal(t, 10*time.Minute, cfg.IdleTimeout)
	})

	t.Run("broken file panics", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
		os.Args = []string{"testbin", "-c", bad}

		require.Panics(t, func() { parseJson(&Config{}) })
	})
}
