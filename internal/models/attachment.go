package models

import (
	"strings"
	"time"
)

// Scope tells which message table an attachment or reaction belongs to.
type Scope string

const (
	DirectScope Scope = "direct"
	GroupScope  Scope = "group"
)

// TransientPrefix marks attachments that only exist in the local projection
// until their upload finishes.
const TransientPrefix = "local-"

type Attachment struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Scope     Scope `gorm:"type:varchar(10);not null;index:idx_attachment_message" json:"-"`
	MessageID uint  `gorm:"not null;index:idx_attachment_message" json:"message_id"`

	FileName    string `gorm:"size:255;not null" json:"file_name"`
	StoragePath string `gorm:"type:text;not null" json:"-"`
	MimeType    string `gorm:"size:127" json:"mime_type"`
	Size        int64  `json:"size"`

	// FileURL is a signed, time-limited URL regenerated from StoragePath.
	FileURL string `gorm:"-" json:"file_url"`
	// PreviewRef points at locally held bytes for transient attachments.
	PreviewRef string `gorm:"-" json:"preview_ref,omitempty"`
}

func (Attachment) TableName() string {
	return "message_attachments"
}

func (a *Attachment) IsTransient() bool {
	return strings.HasPrefix(a.ID, TransientPrefix)
}

// Reaction is one user's emoji on one message. There is at most one row per
// (message, user); the direct and group tables share this shape.
type Reaction struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	MessageID uint      `gorm:"not null" json:"message_id"`
	UserID    uint      `gorm:"not null" json:"user_id"`
	Emoji     string    `gorm:"size:32;not null" json:"emoji"`
}

const (
	DirectReactionTable = "direct_reactions"
	GroupReactionTable  = "group_reactions"
)

// ReactionTable maps a scope to its reaction table.
func ReactionTable(scope Scope) string {
	if scope == GroupScope {
		return GroupReactionTable
	}
	return DirectReactionTable
}
