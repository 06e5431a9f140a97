package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   account service address and port
//	-d string   local database file
//	-n string   notes DSN (postgres://...), empty for local
//	-k string   key backup directory
//	-b string   S3 bucket for key backups
//	-g string   S3 region
//	-e string   S3 endpoint
//	-u string   S3 access key
//	-p string   S3 secret key
//	-m string   metrics listen address
//	-l string   log level (debug, info, warn, error)
//	-i int      idle timeout (in minutes)
//	-w int      lockout window (in minutes)
//	-f int      failed attempts before lockout
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-n", "-k", "-b", "-g", "-e", "-u", "-p", "-m", "-l", "-i", "-w", "-f"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.AccountEndpoint, "a", cfg.AccountEndpoint, "address and port of the account service")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "local database file")
	fs.StringVar(&cfg.NotesDSN, "n", cfg.NotesDSN, "notes DSN (postgres://...), empty for local storage")
	fs.StringVar(&cfg.BackupDir, "k", cfg.BackupDir, "key backup directory")
	fs.StringVar(&cfg.S3Bucket, "b", cfg.S3Bucket, "S3 bucket for key backups")
	fs.StringVar(&cfg.S3Region, "g", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3Endpoint, "e", cfg.S3Endpoint, "S3 endpoint")
	fs.StringVar(&cfg.S3AccessKey, "u", cfg.S3AccessKey, "S3 access key")
	fs.StringVar(&cfg.S3SecretKey, "p", cfg.S3SecretKey, "S3 secret key")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")

	idleTimeout := fs.Int("i", int(cfg.IdleTimeout.Minutes()), "idle timeout (in minutes)")
	lockoutWindow := fs.Int("w", int(cfg.LockoutWindow.Minutes()), "lockout window (in minutes)")
	fs.IntVar(&cfg.MaxFailedAttempts, "f", cfg.MaxFailedAttempts, "failed attempts before lockout")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.IdleTimeout = time.Duration(*idleTimeout) * time.Minute
	cfg.LockoutWindow = time.Duration(*lockoutWindow) * time.Minute
}
