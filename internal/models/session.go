package models

import "time"

// Session is the authenticated identity context handed out by the account
// service. ExpiresAt is epoch seconds.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	UserID       string `json:"user_id"`
	Email        string `json:"email,omitempty"`
	StoredAt     int64  `json:"stored_at,omitempty"`
}

func (s *Session) Expiry() time.Time {
	return time.Unix(s.ExpiresAt, 0)
}

// Expired reports whether now is past the expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.Expiry())
}

// NeedsRefresh reports whether the remaining lifetime is below threshold:
// expires_at*1000 - now_ms < threshold_ms.
func (s *Session) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	return s.ExpiresAt*1000-now.UnixMilli() < threshold.Milliseconds()
}

// User is the account service's view of an identity.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
