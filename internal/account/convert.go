package account

import (
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/models"
	pb "github.com/dmitrijs2005/gophnotes/internal/proto"
)

// SessionToPB maps a session onto the wire. StoredAt is local bookkeeping
// and does not travel.
func SessionToPB(s *models.Session) *pb.Session {
	if s == nil {
		return nil
	}
	return &pb.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		UserId:       s.UserID,
		Email:        s.Email,
	}
}

func SessionFromPB(s *pb.Session) *models.Session {
	if s == nil {
		return nil
	}
	return &models.Session{
		AccessToken:  s.GetAccessToken(),
		RefreshToken: s.GetRefreshToken(),
		ExpiresAt:    s.GetExpiresAt(),
		UserID:       s.GetUserId(),
		Email:        s.GetEmail(),
	}
}

func UserToPB(u *models.User) *pb.User {
	if u == nil {
		return nil
	}
	out := &pb.User{Id: u.ID, Email: u.Email}
	if !u.CreatedAt.IsZero() {
		out.CreatedAt = u.CreatedAt.UnixMilli()
	}
	return out
}

func UserFromPB(u *pb.User) *models.User {
	if u == nil {
		return nil
	}
	out := &models.User{ID: u.GetId(), Email: u.GetEmail()}
	if u.GetCreatedAt() != 0 {
		out.CreatedAt = time.UnixMilli(u.GetCreatedAt()).UTC()
	}
	return out
}
