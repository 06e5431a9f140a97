package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/gophnotes/internal/flagx"
	"github.com/dmitrijs2005/gophnotes/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations
// go through timex.Duration so they may be strings like "30m" or integer
// nanoseconds.
type JsonConfig struct {
	AccountEndpoint   string         `json:"account_endpoint"`
	DatabasePath      string         `json:"database_path"`
	NotesDSN          string         `json:"notes_dsn"`
	BackupDir         string         `json:"backup_dir"`
	S3Bucket          string         `json:"s3_bucket"`
	S3Region          string         `json:"s3_region"`
	S3Endpoint        string         `json:"s3_endpoint"`
	S3AccessKey       string         `json:"s3_access_key"`
	S3SecretKey       string         `json:"s3_secret_key"`
	MetricsAddr       string         `json:"metrics_addr"`
	LogLevel          string         `json:"log_level"`
	IdleTimeout       timex.Duration `json:"idle_timeout"`
	LockoutWindow     timex.Duration `json:"lockout_window"`
	MaxFailedAttempts int            `json:"max_failed_attempts"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c or -config. Absent keys keep their current values. Panics on read or
// unmarshal errors.
func parseJson(cfg *Config) {
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

	setString(&cfg.AccountEndpoint, jc.AccountEndpoint)
	setString(&cfg.DatabasePath, jc.DatabasePath)
	setString(&cfg.NotesDSN, jc.NotesDSN)
	setString(&cfg.BackupDir, jc.BackupDir)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setString(&cfg.MetricsAddr, jc.MetricsAddr)
	setString(&cfg.LogLevel, jc.LogLevel)
	if jc.IdleTimeout.Duration > 0 {
		cfg.IdleTimeout = jc.IdleTimeout.Duration
	}
	if jc.LockoutWindow.Duration > 0 {
		cfg.LockoutWindow = jc.LockoutWindow.Duration
	}
	if jc.MaxFailedAttempts > 0 {
		cfg.MaxFailedAttempts = jc.MaxFailedAttempts
	}
}
