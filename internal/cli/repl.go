package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	touch(ctx context.Context)

	SignUp(ctx context.Context) error
	SignIn(ctx context.Context) error
	SignOut(ctx context.Context) error
	OAuth(ctx context.Context, provider string) error
	ResetPassword(ctx context.Context) error
	UpdatePassword(ctx context.Context) error

	AddNote(ctx context.Context) error
	ListNotes(ctx context.Context, args []string) error
	ShowNote(ctx context.Context, id string) error
	EditNote(ctx context.Context, id string) error
	DeleteNote(ctx context.Context, id string) error

	ExportBackup(ctx context.Context, args []string) error
	RestoreBackup(ctx context.Context, args []string) error

	Events(ctx context.Context, args []string) error
	Status(ctx context.Context) error
}

const (
	helpSignedOut = "Available commands: signup, signin, oauth <provider>, reset-password, exit"
	helpSignedIn  = "Available commands: note add|list|get|edit|delete, backup export|restore, events, status, update-password, signout, exit"
)

// runREPL reads commands from scanner and dispatches them to a. Every
// command counts as user activity for the idle timer. The loop exits on
// scanner EOF or when the user types "exit" or "quit".
//
// Not logged in:
//
//	signup | signin | oauth <provider> | reset-password | help | exit
//
// Logged in:
//
//	note add
//	note list [starred] [shared] [folder=<id>]
//	note get|edit|delete <id>
//	backup export|restore [file|s3] <name>
//	events [type=<t>] [severity=<s>] [actor=<a>] [limit=<n>]
//	status | update-password | signout | help | exit
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("gn %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		if cmd == "exit" || cmd == "quit" {
			printlnFn("Bye!")
			return
		}

		if a.isLoggedIn() {
			a.touch(ctx)
		}

		var err error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn(helpSignedIn)
			} else {
				printlnFn(helpSignedOut)
			}

		case "signup", "register":
			err = a.SignUp(ctx)
		case "signin", "login":
			err = a.SignIn(ctx)
		case "signout", "logout":
			err = a.SignOut(ctx)
		case "oauth":
			if len(args) == 0 {
				printlnFn("Usage: oauth <provider>")
				continue
			}
			err = a.OAuth(ctx, args[0])
		case "reset-password":
			err = a.ResetPassword(ctx)
		case "update-password":
			err = a.UpdatePassword(ctx)

		case "note":
			err = dispatchNote(ctx, a, args)
		case "backup":
			err = dispatchBackup(ctx, a, args)
		case "events":
			err = a.Events(ctx, args)
		case "status":
			err = a.Status(ctx)

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", err)
		}
	}
}

func dispatchNote(ctx context.Context, a execIface, args []string) error {
	if len(args) == 0 {
		printlnFn("Usage: note add|list|get|edit|delete")
		return nil
	}
	sub, rest := args[0], args[1:]

	withID := func(fn func(context.Context, string) error) error {
		if len(rest) == 0 {
			printlnFn(fmt.Sprintf("Usage: note %s <id>", sub))
			return nil
		}
		return fn(ctx, rest[0])
	}

	switch sub {
	case "add":
		return a.AddNote(ctx)
	case "list", "l":
		return a.ListNotes(ctx, rest)
	case "get", "show":
		return withID(a.ShowNote)
	case "edit":
		return withID(a.EditNote)
	case "delete", "rm":
		return withID(a.DeleteNote)
	}
	printlnFn("Unknown note command:", sub)
	return nil
}

func dispatchBackup(ctx context.Context, a execIface, args []string) error {
	if len(args) == 0 {
		printlnFn("Usage: backup export|restore [file|s3] <name>")
		return nil
	}
	switch args[0] {
	case "export":
		return a.ExportBackup(ctx, args[1:])
	case "restore":
		return a.RestoreBackup(ctx, args[1:])
	}
	printlnFn("Unknown backup command:", args[0])
	return nil
}
