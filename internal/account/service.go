// Package account is the contract of the remote account service and a gRPC
// client for it. The security layer treats the service as an opaque,
// possibly failing dependency: an error means no state changed.
package account

import (
	"context"

	"github.com/dmitrijs2005/gophnotes/internal/models"
)

// UserAttributes is the payload of UpdateUser. Empty fields are left alone.
type UserAttributes struct {
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

type Service interface {
	SignUp(ctx context.Context, email, password string) (*models.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error)
	// SignInWithOAuth returns the provider URL the user has to visit.
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)
	SignOut(ctx context.Context, accessToken string) error
	ResetPasswordForEmail(ctx context.Context, email string) error
	UpdateUser(ctx context.Context, accessToken string, attrs UserAttributes) (*models.User, error)
	RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error)
}
