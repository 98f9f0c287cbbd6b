package repository

import (
	"context"

	"gorm.io/gorm"
)

type GroupReadStateRepository struct {
	db *gorm.DB
}

func NewGroupReadStateRepository(db *gorm.DB) *GroupReadStateRepository {
	return &GroupReadStateRepository{db: db}
}

// MarkGroupRead moves the member's read mark forward; a lower id is ignored.
func (r *GroupReadStateRepository) MarkGroupRead(ctx context.Context, groupID, userID, lastReadMessageID uint) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO group_read_states (group_id, user_id, last_read_message_id, updated_at)
		VALUES (?, ?, ?, NOW())
		ON CONFLICT (group_id, user_id) DO UPDATE
		SET last_read_message_id = GREATEST(group_read_states.last_read_message_id, EXCLUDED.last_read_message_id),
			updated_at = NOW()
	`, groupID, userID, lastReadMessageID).Error
}
