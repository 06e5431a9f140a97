package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/dmitrijs2005/gophnotes/internal/pubsub"
	"github.com/dmitrijs2005/gophnotes/internal/security"
	"github.com/fatih/color"
)

const defaultEventLimit = 20

// parseEventFilter understands type=, severity=, actor= and limit=.
func parseEventFilter(args []string) (security.Filter, error) {
	f := security.Filter{Limit: defaultEventLimit}
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || v == "" {
			return f, fmt.Errorf("bad filter %q, want key=value", arg)
		}
		switch k {
		case "type":
			f.Types = append(f.Types, models.EventType(v))
		case "severity":
			f.MinSeverity = models.Severity(v)
		case "actor":
			f.Actor = v
		case "limit":
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return f, fmt.Errorf("bad limit %q", v)
			}
			f.Limit = n
		default:
			return f, fmt.Errorf("unknown filter %q", k)
		}
	}
	return f, nil
}

func severityColor(s models.Severity) func(format string, a ...interface{}) string {
	switch s {
	case models.SeverityCritical:
		return color.HiRedString
	case models.SeverityHigh:
		return color.RedString
	case models.SeverityMedium:
		return color.YellowString
	}
	return color.HiBlackString
}

// Events prints the newest matching security events.
func (a *App) Events(_ context.Context, args []string) error {
	f, err := parseEventFilter(args)
	if err != nil {
		return err
	}
	events := a.Guard.Events(f)
	if len(events) == 0 {
		fmt.Fprintln(a.out, "No events")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, color.HiBlackString("TIME\tSEVERITY\tTYPE\tACTOR"))
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			ev.Timestamp.Local().Format(time.DateTime),
			severityColor(ev.Severity)("%s", ev.Severity),
			ev.Type,
			ev.Actor)
	}
	return w.Flush()
}

// Status prints the session and encryption state.
func (a *App) Status(_ context.Context) error {
	s := a.Accounts.Session()
	if s == nil {
		fmt.Fprintln(a.out, "Session:    signed out")
	} else {
		fmt.Fprintf(a.out, "Session:    %s (%s), expires %s\n", s.Email, s.UserID, s.Expiry().Local().Format(time.DateTime))
	}

	st := a.Keys.Status()
	fmt.Fprintf(a.out, "Encryption: %s", st.State)
	if st.Initialized {
		fmt.Fprintf(a.out, ", key version %d", st.KeyVersion)
	}
	fmt.Fprintln(a.out)
	if !st.Supported {
		fmt.Fprintln(a.out, color.RedString("Cryptographic capability unavailable"))
	}
	return nil
}

// watchAlerts prints alerts until ctx is done or the subscription closes.
func (a *App) watchAlerts(ctx context.Context, sub *pubsub.Subscription[security.Alert]) {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case al, ok := <-sub.C():
			if !ok {
				return
			}
			a.printAlert(al)
		}
	}
}

func (a *App) printAlert(al security.Alert) {
	paint := severityColor(al.Severity)
	fmt.Fprintf(a.out, "\n%s %s\n", paint("[%s] %s", strings.ToUpper(string(al.Severity)), al.Title), al.Message)
}
