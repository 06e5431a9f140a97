package cli

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeExec struct {
	loggedIn bool
	touches  int
	failOn   string

	calls []string
}

func (f *fakeExec) record(name string) error {
	f.calls = append(f.calls, name)
	if name == f.failOn {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeExec) isLoggedIn() bool        { return f.loggedIn }
func (f *fakeExec) touch(_ context.Context) { f.touches++ }

func (f *fakeExec) SignUp(context.Context) error { return f.record("signup") }
func (f *fakeExec) SignIn(context.Context) error {
	f.loggedIn = true
	return f.record("signin")
}
func (f *fakeExec) SignOut(context.Context) error {
	f.loggedIn = false
	return f.record("signout")
}
func (f *fakeExec) OAuth(_ context.Context, p string) error { return f.record("oauth " + p) }
func (f *fakeExec) ResetPassword(context.Context) error     { return f.record("reset") }
func (f *fakeExec) UpdatePassword(context.Context) error    { return f.record("update") }
func (f *fakeExec) AddNote(context.Context) error           { return f.record("note add") }
func (f *fakeExec) ShowNote(_ context.Context, id string) error {
	return f.record("note get " + id)
}
func (f *fakeExec) EditNote(_ context.Context, id string) error {
	return f.record("note edit " + id)
}
func (f *fakeExec) DeleteNote(_ context.Context, id string) error {
	return f.record("note delete " + id)
}
func (f *fakeExec) ListNotes(_ context.Context, args []string) error {
	return f.record(strings.TrimSpace("note list " + strings.Join(args, " ")))
}
func (f *fakeExec) ExportBackup(_ context.Context, args []string) error {
	return f.record("backup export " + strings.Join(args, " "))
}
func (f *fakeExec) RestoreBackup(_ context.Context, args []string) error {
	return f.record("backup restore " + strings.Join(args, " "))
}
func (f *fakeExec) Events(_ context.Context, args []string) error {
	return f.record(strings.TrimSpace("events " + strings.Join(args, " ")))
}
func (f *fakeExec) Status(context.Context) error { return f.record("status") }

func silence(t *testing.T) *[]string {
	t.Helper()
	var printed []string
	origPrint := printlnFn
	printlnFn = func(a ...any) (int, error) {
		parts := make([]string, 0, len(a))
		for _, v := range a {
			switch x := v.(type) {
			case string:
				parts = append(parts, x)
			case error:
				parts = append(parts, x.Error())
			}
		}
		printed = append(printed, strings.Join(parts, " "))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = origPrint })
	return &printed
}

func TestRunREPL_Dispatch(t *testing.T) {
	silence(t)

	input := strings.NewReader(strings.Join([]string{
		"help",
		"signin",
		"note add",
		"note list starred",
		"note get 42",
		"note edit 42",
		"note rm 42",
		"backup export s3 nightly",
		"backup restore nightly",
		"events severity=high",
		"status",
		"update-password",
		"signout",
		"oauth github",
		"exit",
		"status",
	}, "\n"))

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "status" }, bufio.NewScanner(input))

	assert.Equal(t, []string{
		"signin",
		"note add",
		"note list starred",
		"note get 42",
		"note edit 42",
		"note delete 42",
		"backup export s3 nightly",
		"backup restore nightly",
		"events severity=high",
		"status",
		"update",
		"signout",
		"oauth github",
	}, exec.calls)
	// every command issued while signed in counts as activity
	assert.Equal(t, 11, exec.touches)
}

func TestRunREPL_UsageAndErrors(t *testing.T) {
	printed := silence(t)

	input := strings.NewReader("note get\noauth\nbogus\nnote\nstatus\nquit\n")
	exec := &fakeExec{loggedIn: true, failOn: "status"}

	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewScanner(input))

	assert.Equal(t, []string{"status"}, exec.calls)
	assert.Contains(t, *printed, "Usage: note get <id>")
	assert.Contains(t, *printed, "Usage: oauth <provider>")
	assert.Contains(t, *printed, "Unknown command: bogus")
	assert.Contains(t, *printed, "Error: boom")
	assert.Contains(t, *printed, "Bye!")
}

func TestRunREPL_EOF(t *testing.T) {
	silence(t)
	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "" }, bufio.NewScanner(strings.NewReader("")))
	assert.Empty(t, exec.calls)
}
