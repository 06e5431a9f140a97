// Package config handles configuration for the gophnotes CLI: defaults,
// an optional JSON overlay and command-line flags, in that order.
package config

import (
	"strings"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/security"
)

// Config holds runtime settings for the CLI.
//
// Fields:
//   - AccountEndpoint: host:port of the account service gRPC endpoint.
//   - DatabasePath: local SQLite file (key store, lockout state, notes).
//   - NotesDSN: optional Postgres DSN for the note rows; empty keeps notes local.
//   - BackupDir: directory for key backups written to disk.
//   - S3*: optional S3-compatible bucket for key backups.
//   - MetricsAddr: listen address for /metrics and /csp-report; empty disables it.
//   - IdleTimeout, LockoutWindow, MaxFailedAttempts: security policy overrides.
type Config struct {
	AccountEndpoint   string
	DatabasePath      string
	NotesDSN          string
	BackupDir         string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string
	MetricsAddr       string
	LogLevel          string
	IdleTimeout       time.Duration
	LockoutWindow     time.Duration
	MaxFailedAttempts int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	p := security.DefaultPolicy()

	c.AccountEndpoint = "127.0.0.1:50051"
	c.DatabasePath = "gophnotes.db"
	c.BackupDir = "backups"
	c.S3Region = "us-east-1"
	c.LogLevel = "info"
	c.IdleTimeout = p.Session.IdleTimeout
	c.LockoutWindow = p.Access.LockoutWindow
	c.MaxFailedAttempts = p.Access.MaxFailedAttempts
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// Policy returns the default security policy with the configured overrides.
// The result is validated by the coordinator.
func (c *Config) Policy() security.Policy {
	p := security.DefaultPolicy()
	p.Session.IdleTimeout = c.IdleTimeout
	p.Access.LockoutWindow = c.LockoutWindow
	p.Access.MaxFailedAttempts = c.MaxFailedAttempts
	return p
}

// NotesOnPostgres reports whether note rows live in a remote Postgres.
func (c *Config) NotesOnPostgres() bool {
	return strings.HasPrefix(c.NotesDSN, "postgres://") || strings.HasPrefix(c.NotesDSN, "postgresql://")
}

// S3Enabled reports whether key backups may go to S3.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != ""
}
