package models

import (
	"time"
)

type GroupRole string

const (
	RoleAdmin  GroupRole = "admin"
	RoleMember GroupRole = "member"
)

type GroupChat struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name      string `gorm:"size:100;not null" json:"name"`
	Avatar    string `json:"avatar"`
	CreatorID uint   `gorm:"not null" json:"creator_id"`
}

func (GroupChat) TableName() string {
	return "group_chats"
}

// GroupMember's role is only consulted by authorization outside the sync core.
type GroupMember struct {
	GroupID  uint      `gorm:"primaryKey" json:"group_id"`
	UserID   uint      `gorm:"primaryKey;index" json:"user_id"`
	Role     GroupRole `gorm:"type:varchar(20);default:'member'" json:"role"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// GroupMessage mirrors DirectMessage. Sender name and avatar are resolved at
// read time and never written to the row.
type GroupMessage struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	GroupID  uint `gorm:"not null;index" json:"group_id"`
	SenderID uint `gorm:"not null;index" json:"sender_id"`

	Content       *string     `gorm:"type:text" json:"content"`
	Kind          MessageKind `gorm:"type:varchar(20);default:'text'" json:"kind"`
	VoiceDuration *int        `json:"voice_duration,omitempty"`

	ReplyToID       *uint `json:"reply_to_id,omitempty"`
	ForwardedFromID *uint `json:"forwarded_from_id,omitempty"`

	DeletedForSender   bool `gorm:"default:false" json:"deleted_for_sender"`
	DeletedForEveryone bool `gorm:"default:false" json:"deleted_for_everyone"`

	SenderName   string        `gorm:"-" json:"sender_name"`
	SenderAvatar string        `gorm:"-" json:"sender_avatar"`
	ReplyTo      *GroupMessage `gorm:"-" json:"reply_to,omitempty"`
	Attachments  []Attachment  `gorm:"-" json:"attachments"`
	Reactions    []Reaction    `gorm:"-" json:"reactions"`
}

func (GroupMessage) TableName() string {
	return "group_messages"
}

func (m *GroupMessage) VisibleTo(viewerID uint) bool {
	if m.DeletedForEveryone {
		return false
	}
	return !(m.SenderID == viewerID && m.DeletedForSender)
}

// MergeFrom folds an authoritative row into m; deletion flags are one-way.
func (m *GroupMessage) MergeFrom(row *GroupMessage) {
	m.DeletedForSender = m.DeletedForSender || row.DeletedForSender
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

func (m GroupMessage) Clone() GroupMessage {
	m.Attachments = append([]Attachment(nil), m.Attachments...)
	m.Reactions = append([]Reaction(nil), m.Reactions...)
	if m.ReplyTo != nil {
		reply := m.ReplyTo.Clone()
		m.ReplyTo = &reply
	}
	return m
}

// GroupSummary is one row of the viewer's group list.
type GroupSummary struct {
	GroupID       uint       `json:"group_id"`
	Name          string     `json:"name"`
	Avatar        string     `json:"avatar"`
	LastMessage   string     `json:"last_message"`
	LastMessageID uint       `json:"last_message_id"`
	LastMessageAt *time.Time `json:"last_message_at"`
	UnreadCount   int        `json:"unread_count"`
}
