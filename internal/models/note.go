// Package models defines the records the security layer moves around:
// plaintext notes, their encrypted wire form, sessions and security events.
package models

import (
	"time"
)

// Note is the plaintext note as the application edits it.
type Note struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Tags      []string          `json:"tags,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	FolderID  string            `json:"folder_id,omitempty"`
	IsStarred bool              `json:"is_starred"`
	IsShared  bool              `json:"is_shared"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NoteContent is the part of a Note that is encrypted. Everything else on
// the note is an indexing field and travels in the clear.
type NoteContent struct {
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Tags     []string          `json:"tags"`
	Metadata map[string]string `json:"metadata"`
}

func (n Note) EncryptedPart() NoteContent {
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	md := n.Metadata
	if md == nil {
		md = map[string]string{}
	}
	return NoteContent{Title: n.Title, Content: n.Content, Tags: tags, Metadata: md}
}

// EncryptedNote is the persisted/wire record of a note.
type EncryptedNote struct {
	ID                string    `json:"id"`
	EncryptedContent  string    `json:"encrypted_content"`
	ContentHash       string    `json:"content_hash"`
	EncryptionVersion int       `json:"encryption_version"`
	EncryptedAt       time.Time `json:"encrypted_at"`
	FolderID          string    `json:"folder_id,omitempty"`
	IsStarred         bool      `json:"is_starred"`
	IsShared          bool      `json:"is_shared"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NoteFilter selects notes by their unencrypted indexing fields.
type NoteFilter struct {
	FolderID  *string
	IsStarred *bool
	IsShared  *bool
}

// AAD binds a ciphertext to the note identity and version:
// "<id>_<updated_at RFC3339, UTC, millisecond precision>".
func AAD(id string, updatedAt time.Time) []byte {
	return []byte(id + "_" + updatedAt.UTC().Truncate(time.Millisecond).Format(time.RFC3339Nano))
}
