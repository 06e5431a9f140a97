package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/gophnotes/internal/backup"
	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/session"
)

var errUnknownSink = errors.New("unknown backup target")

// resolveSink reads "[target] <name>" arguments. Without a target the
// default sink is used.
func (a *App) resolveSink(args []string) (backup.Sink, string, error) {
	switch len(args) {
	case 1:
		sink, ok := a.Sinks[a.DefaultSink]
		if !ok {
			return nil, "", errUnknownSink
		}
		return sink, args[0], nil
	case 2:
		sink, ok := a.Sinks[args[0]]
		if !ok {
			return nil, "", fmt.Errorf("%w %q (available: %s)", errUnknownSink, args[0], strings.Join(a.sinkNames(), ", "))
		}
		return sink, args[1], nil
	}
	return nil, "", fmt.Errorf("usage: backup export|restore [%s] <name>", strings.Join(a.sinkNames(), "|"))
}

func (a *App) sinkNames() []string {
	names := make([]string, 0, len(a.Sinks))
	for n := range a.Sinks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ExportBackup writes the active note key to the chosen sink.
func (a *App) ExportBackup(ctx context.Context, args []string) error {
	sink, name, err := a.resolveSink(args)
	if err != nil {
		return err
	}
	if err := a.Backups.Save(ctx, sink, name); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Key exported to", name)
	fmt.Fprintln(a.out, "The backup holds your raw key. Store it like a password.")
	return nil
}

// RestoreBackup installs a key backup for the signed in user.
func (a *App) RestoreBackup(ctx context.Context, args []string) error {
	sink, name, err := a.resolveSink(args)
	if err != nil {
		return err
	}
	s := a.Accounts.Session()
	if s == nil {
		return common.ErrNotAuthenticated
	}

	password := session.EncryptionPassword(s.Email, s.UserID)
	defer common.WipeByteArray(password)

	if err := a.Backups.Load(ctx, sink, name, s.UserID, password); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Key restored from", name)
	return nil
}
