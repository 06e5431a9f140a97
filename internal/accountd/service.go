// Package accountd is a development implementation of the account service:
// email/password accounts with argon2 hashes, HS256 access tokens and
// rotating opaque refresh tokens, served over gRPC.
package accountd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/logging"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/google/uuid"
)

const minPasswordLength = 8

type Options struct {
	SecretKey                    []byte
	AccessTokenValidityDuration  time.Duration
	RefreshTokenValidityDuration time.Duration
	// OAuthBaseURL is where SignInWithOAuth sends users, e.g.
	// "https://auth.example.com/authorize".
	OAuthBaseURL string
	Providers    []string
}

// Service holds the account business logic independent of transport.
type Service struct {
	store  Store
	clock  quartz.Clock
	logger logging.Logger
	opts   Options
}

func NewService(store Store, clock quartz.Clock, logger logging.Logger, opts Options) *Service {
	return &Service{store: store, clock: clock, logger: logger.With("module", "account_service"), opts: opts}
}

func validateCredentials(email, password string) error {
	var reasons []string
	if !strings.Contains(email, "@") {
		reasons = append(reasons, "email is malformed")
	}
	if len(password) < minPasswordLength {
		reasons = append(reasons, fmt.Sprintf("password shorter than %d characters", minPasswordLength))
	}
	if len(reasons) > 0 {
		return &common.PolicyViolationError{Reasons: reasons}
	}
	return nil
}

func (s *Service) SignUp(ctx context.Context, email, password string) (*models.Session, *models.User, error) {
	if err := validateCredentials(email, password); err != nil {
		return nil, nil, err
	}

	salt := common.GenerateRandByteArray(saltSize)
	user := &User{
		ID:           uuid.NewString(),
		Email:        normEmail(email),
		Salt:         salt,
		PasswordHash: hashPassword(password, salt),
		CreatedAt:    s.clock.Now().UTC(),
	}

	var session *models.Session
	err := s.store.InTx(ctx, func(ctx context.Context, users UserRepository, tokens RefreshTokenRepository) error {
		if err := users.Create(ctx, user); err != nil {
			return err
		}
		var err error
		session, err = s.issueSession(ctx, user, tokens)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info(ctx, "Registered", "user_id", user.ID)
	return session, toModel(user), nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*models.Session, *models.User, error) {
	user, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// burn the same time as a real check
			hashPassword(password, common.GenerateRandByteArray(saltSize))
			return nil, nil, common.ErrAuthentication
		}
		return nil, nil, err
	}
	if !checkPassword(password, user.Salt, user.PasswordHash) {
		return nil, nil, common.ErrAuthentication
	}

	session, err := s.issueSession(ctx, user, s.store.RefreshTokens())
	if err != nil {
		return nil, nil, err
	}
	return session, toModel(user), nil
}

// RefreshSession validates refreshToken, rotates it and returns a new
// session. Expired tokens yield common.ErrRefreshTokenExpired.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (*models.Session, *models.User, error) {
	var (
		session *models.Session
		user    *User
	)
	err := s.store.InTx(ctx, func(ctx context.Context, users UserRepository, tokens RefreshTokenRepository) error {
		token, err := tokens.Find(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidToken
			}
			return fmt.Errorf("error searching refresh token: %w", err)
		}
		if token.ExpiresAt.Before(s.clock.Now()) {
			_ = tokens.Delete(ctx, refreshToken)
			return common.ErrRefreshTokenExpired
		}
		user, err = users.GetByID(ctx, token.UserID)
		if err != nil {
			return err
		}
		if err := tokens.Delete(ctx, refreshToken); err != nil {
			return fmt.Errorf("error deleting refresh token: %w", err)
		}
		session, err = s.issueSession(ctx, user, tokens)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return session, toModel(user), nil
}

// SignOut revokes every refresh token of the token's owner.
func (s *Service) SignOut(ctx context.Context, userID string) error {
	return s.store.RefreshTokens().DeleteForUser(ctx, userID)
}

// ResetPasswordForEmail never reveals whether the account exists.
func (s *Service) ResetPasswordForEmail(ctx context.Context, email string) error {
	if _, err := s.store.Users().GetByEmail(ctx, email); err != nil && !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	s.logger.Info(ctx, "password reset requested")
	return nil
}

func (s *Service) UpdateUser(ctx context.Context, userID, email, password string) (*models.User, error) {
	var out *User
	err := s.store.InTx(ctx, func(ctx context.Context, users UserRepository, tokens RefreshTokenRepository) error {
		user, err := users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if email != "" {
			if err := validateCredentials(email, strings.Repeat("x", minPasswordLength)); err != nil {
				return err
			}
			user.Email = normEmail(email)
		}
		if password != "" {
			if err := validateCredentials(user.Email, password); err != nil {
				return err
			}
			user.Salt = common.GenerateRandByteArray(saltSize)
			user.PasswordHash = hashPassword(password, user.Salt)
		}
		if err := users.Update(ctx, user); err != nil {
			return err
		}
		if password != "" {
			// other devices have to sign in again
			if err := tokens.DeleteForUser(ctx, userID); err != nil {
				return err
			}
		}
		out = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toModel(out), nil
}

// OAuthURL builds the provider redirect for SignInWithOAuth.
func (s *Service) OAuthURL(provider, redirectTo string) (string, error) {
	known := false
	for _, p := range s.opts.Providers {
		if p == provider {
			known = true
			break
		}
	}
	if !known || s.opts.OAuthBaseURL == "" {
		return "", &common.PolicyViolationError{Reasons: []string{fmt.Sprintf("unsupported provider %q", provider)}}
	}

	u, err := url.Parse(s.opts.OAuthBaseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("provider", provider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Authenticate resolves an access token to its user id.
func (s *Service) Authenticate(accessToken string) (*Claims, error) {
	return ParseToken(accessToken, s.opts.SecretKey, s.clock.Now())
}

func (s *Service) issueSession(ctx context.Context, user *User, tokens RefreshTokenRepository) (*models.Session, error) {
	now := s.clock.Now()
	access, expires, err := GenerateToken(user.ID, user.Email, s.opts.SecretKey, now, s.opts.AccessTokenValidityDuration)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, err
	}
	if err := tokens.Create(ctx, &RefreshToken{
		Token:     refresh,
		UserID:    user.ID,
		ExpiresAt: now.Add(s.opts.RefreshTokenValidityDuration),
	}); err != nil {
		return nil, err
	}
	return &models.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expires.Unix(),
		UserID:       user.ID,
		Email:        user.Email,
	}, nil
}

func toModel(u *User) *models.User {
	return &models.User{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}
