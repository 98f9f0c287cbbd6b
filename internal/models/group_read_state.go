package models

import (
	"time"
)

// GroupReadState is the group counterpart of the direct is_read flag: a
// per-member high-water mark that only moves forward.
type GroupReadState struct {
	GroupID           uint      `gorm:"primaryKey" json:"group_id"`
	UserID            uint      `gorm:"primaryKey" json:"user_id"`
	LastReadMessageID uint      `gorm:"not null;default:0" json:"last_read_message_id"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (GroupReadState) TableName() string {
	return "group_read_states"
}

// Unread reports whether msg counts as unread for the state's member.
func (s *GroupReadState) Unread(msg *GroupMessage) bool {
	return msg.ID > s.LastReadMessageID && msg.SenderID != s.UserID && msg.VisibleTo(s.UserID)
}
