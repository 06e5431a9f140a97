package config

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":50051", c.EndpointAddrGRPC)
	assert.Equal(t, "secretKey", c.SecretKey)
	assert.Equal(t, time.Hour, c.AccessTokenValidityDuration)
	assert.Empty(t, c.DatabaseDSN)
	assert.Equal(t, []string{"github", "google"}, c.OAuthProviders)
}

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "all", args: []string{"cmd", "-a", ":9090", "-d", "postgres://h/db", "-s", "k", "-t", "5", "-r", "60", "-P", "a, b"},
			expected: &Config{EndpointAddrGRPC: ":9090", DatabaseDSN: "postgres://h/db", SecretKey: "k",
				AccessTokenValidityDuration: 5 * time.Minute, RefreshTokenValidityDuration: time.Hour,
				OAuthProviders: []string{"a", "b"}}},
		{name: "bad minutes", args: []string{"cmd", "-t", "x"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)
			os.Args = tt.args

			config := &Config{}
			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(config) })
				return
			}
			require.NotPanics(t, func() { parseFlags(config) })
			assert.Empty(t, cmp.Diff(tt.expected, config))
		})
	}
}

func Test_parseJson(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	path := filepath.Join(t.TempDir(), "accountd.json")
	b, err := json.Marshal(map[string]any{
		"secret_key":                     "from-json",
		"access_token_validity_duration": "2m",
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))

	os.Args = []string{"testbin", "-c", path}
	var c Config
	c.LoadDefaults()
	parseJson(&c)

	assert.Equal(t, "from-json", c.SecretKey)
	assert.Equal(t, 2*time.Minute, c.AccessTokenValidityDuration)
	assert.Equal(t, ":50051", c.EndpointAddrGRPC)
}
