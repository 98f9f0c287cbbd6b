package models

import (
	"time"
)

type MessageKind string

const (
	TextMessage  MessageKind = "text"
	VoiceMessage MessageKind = "voice"
	ImageMessage MessageKind = "image"
	VideoMessage MessageKind = "video"
	FileMessage  MessageKind = "file"
)

// DeletedPreview is shown in conversation previews in place of content that
// was deleted for everyone.
const DeletedPreview = "This message was deleted"

// DirectMessage is a one-to-one message row. Rows are never hard-deleted;
// deletion only flips one of the three flags.
type DirectMessage struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SenderID    uint `gorm:"not null;index" json:"sender_id"`
	RecipientID uint `gorm:"not null;index" json:"recipient_id"`

	Content       *string     `gorm:"type:text" json:"content"`
	Kind          MessageKind `gorm:"type:varchar(20);default:'text'" json:"kind"`
	VoiceDuration *int        `json:"voice_duration,omitempty"`

	ReplyToID       *uint `json:"reply_to_id,omitempty"`
	ForwardedFromID *uint `json:"forwarded_from_id,omitempty"`

	IsDelivered bool       `gorm:"default:false" json:"is_delivered"`
	IsRead      bool       `gorm:"default:false;index" json:"is_read"`
	DeliveredAt *time.Time `json:"delivered_at"`
	ReadAt      *time.Time `json:"read_at"`

	DeletedForSender    bool `gorm:"default:false" json:"deleted_for_sender"`
	DeletedForRecipient bool `gorm:"default:false" json:"deleted_for_recipient"`
	DeletedForEveryone  bool `gorm:"default:false" json:"deleted_for_everyone"`

	// Resolved at read time.
	ReplyTo     *DirectMessage `gorm:"-" json:"reply_to,omitempty"`
	Attachments []Attachment   `gorm:"-" json:"attachments"`
	Reactions   []Reaction     `gorm:"-" json:"reactions"`
}

func (DirectMessage) TableName() string {
	return "direct_messages"
}

// PeerOf returns the other participant from viewerID's point of view.
func (m *DirectMessage) PeerOf(viewerID uint) uint {
	if m.SenderID == viewerID {
		return m.RecipientID
	}
	return m.SenderID
}

// Involves reports whether userID is the sender or the recipient.
func (m *DirectMessage) Involves(userID uint) bool {
	return m.SenderID == userID || m.RecipientID == userID
}

// VisibleTo reports whether viewerID may see the message: it must not be
// deleted for everyone, and the viewer's own side flag must be unset.
func (m *DirectMessage) VisibleTo(viewerID uint) bool {
	if m.DeletedForEveryone {
		return false
	}
	if m.SenderID == viewerID && m.DeletedForSender {
		return false
	}
	if m.RecipientID == viewerID && m.DeletedForRecipient {
		return false
	}
	return m.Involves(viewerID)
}

// HiddenBySide reports whether the viewer removed the message from their own
// side only. Such messages never reach previews or unread counts.
func (m *DirectMessage) HiddenBySide(viewerID uint) bool {
	return (m.SenderID == viewerID && m.DeletedForSender) ||
		(m.RecipientID == viewerID && m.DeletedForRecipient)
}

// MergeFrom folds an authoritative row into m. Delivery state and deletion
// flags only ever move forward, so applying the same row twice, or an older
// row after a newer one, leaves m unchanged.
func (m *DirectMessage) MergeFrom(row *DirectMessage) {
	if row.IsDelivered && !m.IsDelivered {
		m.IsDelivered = true
		m.DeliveredAt = row.DeliveredAt
	}
	if row.IsRead && !m.IsRead {
		m.IsRead = true
		m.ReadAt = row.ReadAt
	}
	if m.IsRead && !m.IsDelivered {
		m.IsDelivered = true
		m.DeliveredAt = m.ReadAt
	}
	m.DeletedForSender = m.DeletedForSender || row.DeletedForSender
	m.DeletedForRecipient = m.DeletedForRecipient || row.DeletedForRecipient
	m.DeletedForEveryone = m.DeletedForEveryone || row.DeletedForEveryone
	if m.DeletedForEveryone {
		m.Content = nil
		return
	}
	if row.Content != nil {
		m.Content = row.Content
	}
	if row.UpdatedAt.After(m.UpdatedAt) {
		m.UpdatedAt = row.UpdatedAt
	}
}

// Clone returns a copy that does not share attachment or reaction slices.
func (m DirectMessage) Clone() DirectMessage {
	m.Attachments = append([]Attachment(nil), m.Attachments...)
	m.Reactions = append([]Reaction(nil), m.Reactions...)
	if m.ReplyTo != nil {
		reply := m.ReplyTo.Clone()
		m.ReplyTo = &reply
	}
	return m
}

// Preview renders the short text used for conversation and group lists.
func Preview(content *string, kind MessageKind, deleted bool) string {
	if deleted {
		return DeletedPreview
	}
	if content != nil && *content != "" {
		return *content
	}
	switch kind {
	case VoiceMessage:
		return "Voice message"
	case ImageMessage:
		return "Photo"
	case VideoMessage:
		return "Video"
	case FileMessage:
		return "File"
	}
	return ""
}
