// Package backup exports the active note key to a portable JSON document
// and restores it. Backups hold the raw key and must be stored like a
// password.
package backup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/cryptox"
	"github.com/dmitrijs2005/gophnotes/internal/logging"
	"github.com/dmitrijs2005/gophnotes/internal/models"
)

// Version of the backup document layout.
const Version = 1

// Backup is the exported document.
type Backup struct {
	Key       string `json:"key"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
	Version   int    `json:"version"`
}

// KeyHolder is the note encryption service as seen by backup.
type KeyHolder interface {
	ExportKey() ([]byte, string, error)
	InstallKey(ctx context.Context, userID string, key *cryptox.Key, password []byte) error
}

// Recorder receives key export and restore events.
type Recorder interface {
	LogEvent(ctx context.Context, typ models.EventType, actor string, severity models.Severity, metadata map[string]any) models.SecurityEvent
}

type Service struct {
	keys   KeyHolder
	events Recorder
	clock  quartz.Clock
	logger logging.Logger
}

func NewService(keys KeyHolder, events Recorder, clock quartz.Clock, logger logging.Logger) *Service {
	return &Service{keys: keys, events: events, clock: clock, logger: logger.With("module", "backup")}
}

// Export serializes the active key.
func (s *Service) Export(ctx context.Context) ([]byte, error) {
	raw, userID, err := s.keys.ExportKey()
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(raw)

	b := Backup{
		Key:       cryptox.EncodeBase64(raw),
		UserID:    userID,
		Timestamp: s.clock.Now().UnixMilli(),
		Version:   Version,
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, err
	}

	s.record(ctx, models.EventKeyExported, userID, models.SeverityMedium)
	s.logger.Info(ctx, "key exported", "user_id", userID)
	return data, nil
}

// Restore installs the key from data for currentUserID. A backup made for
// another user fails with common.ErrBackupUserMismatch and installs
// nothing. password wraps the key at rest.
func (s *Service) Restore(ctx context.Context, data []byte, currentUserID string, password []byte) error {
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("parse backup: %w", err)
	}
	if b.Version != Version {
		return fmt.Errorf("unsupported backup version %d", b.Version)
	}
	if currentUserID == "" {
		return common.ErrNotAuthenticated
	}
	if b.UserID != currentUserID {
		s.logger.Warn(ctx, "backup user mismatch", "backup_user", b.UserID, "user_id", currentUserID)
		s.record(ctx, models.EventAccessDenied, currentUserID, models.SeverityHigh)
		return common.ErrBackupUserMismatch
	}

	raw, err := cryptox.DecodeBase64(b.Key)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidKey, err)
	}
	defer common.WipeByteArray(raw)

	key, err := cryptox.ImportKey(raw, true)
	if err != nil {
		return err
	}
	if err := s.keys.InstallKey(ctx, currentUserID, key, password); err != nil {
		return err
	}

	s.record(ctx, models.EventKeyRestored, currentUserID, models.SeverityMedium)
	s.logger.Info(ctx, "key restored", "user_id", currentUserID)
	return nil
}

// Save exports to name on sink.
func (s *Service) Save(ctx context.Context, sink Sink, name string) error {
	data, err := s.Export(ctx)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(data)
	return sink.Put(ctx, name, data)
}

// Load restores from name on sink.
func (s *Service) Load(ctx context.Context, sink Sink, name, currentUserID string, password []byte) error {
	data, err := sink.Get(ctx, name)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(data)
	return s.Restore(ctx, data, currentUserID, password)
}

func (s *Service) record(ctx context.Context, typ models.EventType, userID string, sev models.Severity) {
	if s.events == nil {
		return
	}
	s.events.LogEvent(ctx, typ, userID, sev, map[string]any{"user_id": userID})
}
