package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/gophnotes/internal/flagx"
	"github.com/dmitrijs2005/gophnotes/internal/timex"
)

// JsonConfig is the JSON shape of Config. Durations accept "15m" style
// strings or integer nanoseconds.
type JsonConfig struct {
	EndpointAddrGRPC             string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	OAuthBaseURL                 string         `json:"oauth_base_url"`
	OAuthProviders               []string       `json:"oauth_providers"`
	LogLevel                     string         `json:"log_level"`
}

// parseJson loads the file named by -c or -config, if any, into config.
// Absent keys keep their current values. Panics on read or unmarshal
// errors.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.EndpointAddrGRPC != "" {
		config.EndpointAddrGRPC = jc.EndpointAddrGRPC
	}
	if jc.DatabaseDSN != "" {
		config.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.SecretKey != "" {
		config.SecretKey = jc.SecretKey
	}
	if jc.AccessTokenValidityDuration.Duration > 0 {
		config.AccessTokenValidityDuration = jc.AccessTokenValidityDuration.Duration
	}
	if jc.RefreshTokenValidityDuration.Duration > 0 {
		config.RefreshTokenValidityDuration = jc.RefreshTokenValidityDuration.Duration
	}
	if jc.OAuthBaseURL != "" {
		config.OAuthBaseURL = jc.OAuthBaseURL
	}
	if len(jc.OAuthProviders) > 0 {
		config.OAuthProviders = jc.OAuthProviders
	}
	if jc.LogLevel != "" {
		config.LogLevel = jc.LogLevel
	}
}
