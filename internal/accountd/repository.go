package accountd

import (
	"context"
	"time"
)

type User struct {
	ID           string
	Email        string
	Salt         []byte
	PasswordHash []byte
	CreatedAt    time.Time
}

type RefreshToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// UserRepository stores accounts. Lookups of a missing user return
// common.ErrorNotFound; Create of a taken email returns
// common.ErrAlreadyExists.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Update(ctx context.Context, user *User) error
}

// RefreshTokenRepository stores opaque refresh tokens. Deleting a missing
// token is not an error.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	Find(ctx context.Context, token string) (*RefreshToken, error)
	Delete(ctx context.Context, token string) error
	DeleteForUser(ctx context.Context, userID string) error
}

// Store hands out repositories and runs functions atomically across them.
type Store interface {
	Users() UserRepository
	RefreshTokens() RefreshTokenRepository
	InTx(ctx context.Context, fn func(ctx context.Context, users UserRepository, tokens RefreshTokenRepository) error) error
}
