package models

import (
	"time"
)

// UnknownUserName is used when a profile lookup misses.
const UnknownUserName = "Unknown User"

// User is the read-only profile row owned by the identity service.
type User struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Username string `gorm:"uniqueIndex;not null" json:"username"`
	FullName string `json:"full_name"`
	Avatar   string `json:"avatar"`
}

// Profile is the display identity used to enrich conversations, group
// senders and reply previews.
type Profile struct {
	ID          uint   `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

func (u *User) ToProfile() Profile {
	name := u.FullName
	if name == "" {
		name = u.Username
	}
	return Profile{ID: u.ID, DisplayName: name, AvatarURL: u.Avatar}
}

// PlaceholderProfile stands in for ids the lookup could not resolve.
func PlaceholderProfile(id uint) Profile {
	return Profile{ID: id, DisplayName: UnknownUserName}
}

// Presence is the single upserted presence row per user.
type Presence struct {
	UserID          uint       `gorm:"primaryKey" json:"user_id"`
	IsOnline        bool       `gorm:"default:false" json:"is_online"`
	LastSeen        *time.Time `json:"last_seen"`
	TypingTo        *uint      `json:"typing_to"`
	TypingStartedAt *time.Time `json:"typing_started_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Presence) TableName() string {
	return "presence"
}

// ChatState is a user's overlay on one conversation row.
type ChatState struct {
	UserID    uint       `gorm:"primaryKey" json:"user_id"`
	PeerID    uint       `gorm:"primaryKey" json:"peer_id"`
	Pinned    bool       `gorm:"default:false" json:"pinned"`
	Archived  bool       `gorm:"default:false" json:"archived"`
	HiddenAt  *time.Time `json:"hidden_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (ChatState) TableName() string {
	return "chat_states"
}

// Conversation is derived from messages and presence and never persisted.
type Conversation struct {
	PeerID             uint       `json:"peer_id"`
	DisplayName        string     `json:"display_name"`
	Avatar             string     `json:"avatar"`
	LastMessage        string     `json:"last_message"`
	LastMessageDeleted bool       `json:"last_message_deleted"`
	LastMessageAt      time.Time  `json:"last_message_at"`
	UnreadCount        int        `json:"unread_count"`
	IsOnline           bool       `json:"is_online"`
	LastSeen           *time.Time `json:"last_seen"`
	IsTyping           bool       `json:"is_typing"`
	Pinned             bool       `json:"pinned"`
	Archived           bool       `json:"archived"`
}
