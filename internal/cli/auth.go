package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophnotes/internal/common"
)

var errPasswordMismatch = errors.New("passwords do not match")

// SignUp prompts for an email and a password (twice) and creates an
// account. On success the user is signed in.
func (a *App) SignUp(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword("Enter password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	confirm, err := getPassword("Repeat password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(confirm)

	if string(password) != string(confirm) {
		return errPasswordMismatch
	}

	if _, err := a.Guard.SignUp(ctx, email, string(password)); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Account created, signed in as", email)
	return nil
}

// SignIn prompts for credentials and authenticates. The password is wiped
// before returning.
func (a *App) SignIn(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword("Enter password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if _, err := a.Guard.SignIn(ctx, email, string(password)); err != nil {
		switch {
		case errors.Is(err, common.ErrLockout):
			fmt.Fprintln(a.out, "Too many failed attempts. Try again later.")
		case errors.Is(err, common.ErrIdentityBlocked):
			fmt.Fprintln(a.out, "This identity is temporarily blocked.")
		}
		return err
	}
	fmt.Fprintln(a.out, "Signed in as", email)
	return nil
}

func (a *App) SignOut(ctx context.Context) error {
	if err := a.Guard.SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

// OAuth prints the provider URL the user has to open to finish sign-in.
func (a *App) OAuth(ctx context.Context, provider string) error {
	url, err := a.Accounts.SignInWithOAuth(ctx, provider, "")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Open in a browser to continue:", url)
	return nil
}

func (a *App) ResetPassword(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}
	if err := a.Accounts.ResetPassword(ctx, email); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "If the account exists, a reset link was sent to", email)
	return nil
}

func (a *App) UpdatePassword(ctx context.Context) error {
	password, err := getPassword("New password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	confirm, err := getPassword("Repeat password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(confirm)

	if string(password) != string(confirm) {
		return errPasswordMismatch
	}
	if err := a.Accounts.UpdatePassword(ctx, string(password)); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Password updated")
	return nil
}
