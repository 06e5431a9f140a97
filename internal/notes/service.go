package notes

import (
	"context"
	"errors"
	"time"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/logging"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Crypter is the guarded encryption path.
type Crypter interface {
	EncryptNote(ctx context.Context, note models.Note) (*models.EncryptedNote, error)
	DecryptNote(ctx context.Context, enc models.EncryptedNote) (*models.Note, error)
}

// Owner resolves the signed-in user.
type Owner interface {
	Session() *models.Session
}

// Service is the plaintext note workflow: notes go through Crypter on
// their way to and from the repository.
type Service struct {
	repo   Repository
	crypto Crypter
	owner  Owner
	clock  quartz.Clock
	logger logging.Logger
}

func NewService(repo Repository, crypto Crypter, owner Owner, clock quartz.Clock, logger logging.Logger) *Service {
	return &Service{repo: repo, crypto: crypto, owner: owner, clock: clock, logger: logger.With("module", "notes")}
}

func (s *Service) userID() (string, error) {
	if sess := s.owner.Session(); sess != nil && sess.UserID != "" {
		return sess.UserID, nil
	}
	return "", common.ErrNotAuthenticated
}

// Create assigns an id and timestamps, encrypts and stores the note.
func (s *Service) Create(ctx context.Context, n models.Note) (*models.Note, error) {
	uid, err := s.userID()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC().Truncate(time.Millisecond)
	n.ID = uuid.New().String()
	n.CreatedAt = now
	n.UpdatedAt = now
	if err := s.store(ctx, uid, n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Update re-encrypts n under a fresh updated_at. The previous ciphertext
// no longer authenticates against the new AAD.
func (s *Service) Update(ctx context.Context, n models.Note) (*models.Note, error) {
	uid, err := s.userID()
	if err != nil {
		return nil, err
	}
	current, err := s.repo.Get(ctx, uid, n.ID)
	if err != nil {
		return nil, err
	}
	n.CreatedAt = current.CreatedAt
	n.UpdatedAt = s.clock.Now().UTC().Truncate(time.Millisecond)
	if !n.UpdatedAt.After(current.UpdatedAt) {
		n.UpdatedAt = current.UpdatedAt.Add(time.Millisecond)
	}
	if err := s.store(ctx, uid, n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Service) store(ctx context.Context, uid string, n models.Note) error {
	enc, err := s.crypto.EncryptNote(ctx, n)
	if err != nil {
		return err
	}
	return s.repo.Save(ctx, uid, enc)
}

func (s *Service) Get(ctx context.Context, id string) (*models.Note, error) {
	uid, err := s.userID()
	if err != nil {
		return nil, err
	}
	enc, err := s.repo.Get(ctx, uid, id)
	if err != nil {
		return nil, err
	}
	return s.crypto.DecryptNote(ctx, *enc)
}

// List decrypts every matching note. Notes that fail to decrypt are
// skipped and reported through the returned error alongside the rest.
func (s *Service) List(ctx context.Context, f models.NoteFilter) ([]models.Note, error) {
	uid, err := s.userID()
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.List(ctx, uid, f)
	if err != nil {
		return nil, err
	}

	result := make([]models.Note, 0, len(rows))
	var errs *multierror.Error
	for _, enc := range rows {
		n, err := s.crypto.DecryptNote(ctx, enc)
		if err != nil {
			if errors.Is(err, common.ErrNotAuthenticated) || errors.Is(err, common.ErrEncryptionNotReady) {
				return nil, err
			}
			s.logger.Warn(ctx, "skipping undecryptable note", "note_id", enc.ID, "error", err)
			errs = multierror.Append(errs, err)
			continue
		}
		result = append(result, *n)
	}
	return result, errs.ErrorOrNil()
}

func (s *Service) Delete(ctx context.Context, id string) error {
	uid, err := s.userID()
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, uid, id)
}
