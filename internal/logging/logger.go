// Package logging is the structured logger every gophnotes component takes
// as a dependency. The only implementation wraps log/slog.
package logging

import "context"

// Logger takes a message plus alternating key/value attributes:
//
//	logger.Warn(ctx, "sign-in rejected", "email", email, "attempts", n)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a logger that adds args to every record.
	With(args ...any) Logger
}
