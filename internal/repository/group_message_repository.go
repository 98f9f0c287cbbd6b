package repository

import (
	"context"
	"errors"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/chatsync"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/realtime"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GroupMessageRepository struct {
	db     *gorm.DB
	events rowEvents
}

func NewGroupMessageRepository(db *gorm.DB, events rowEvents) *GroupMessageRepository {
	return &GroupMessageRepository{db: db, events: events}
}

func groupRow(m models.GroupMessage) *models.GroupMessage {
	m.SenderName, m.SenderAvatar = "", ""
	m.ReplyTo, m.Attachments, m.Reactions = nil, nil, nil
	return &m
}

func (r *GroupMessageRepository) InsertGroupMessage(ctx context.Context, msg *models.GroupMessage) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return err
	}
	r.events.announce(ctx, realtime.OpInsert, realtime.GroupMessages, groupRow(*msg))
	return nil
}

func (r *GroupMessageRepository) FindGroupMessageByID(ctx context.Context, id uint) (*models.GroupMessage, error) {
	var message models.GroupMessage
	err := r.db.WithContext(ctx).First(&message, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, chatsync.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *GroupMessageRepository) FindGroupMessagesByIDs(ctx context.Context, ids []uint) ([]models.GroupMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var messages []models.GroupMessage
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&messages).Error
	return messages, err
}

func (r *GroupMessageRepository) ListGroupMessages(ctx context.Context, groupID uint) ([]models.GroupMessage, error) {
	var messages []models.GroupMessage
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	return messages, err
}

// deleteAsAuthor flips one deletion flag on a message senderID wrote.
func (r *GroupMessageRepository) deleteAsAuthor(ctx context.Context, id, senderID uint, values map[string]interface{}) error {
	var changed []models.GroupMessage
	err := r.db.WithContext(ctx).
		Model(&changed).
		Clauses(clause.Returning{}).
		Where("id = ? AND sender_id = ?", id, senderID).
		Updates(values).Error
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		if _, err := r.FindGroupMessageByID(ctx, id); err != nil {
			return err
		}
		return chatsync.ErrNotAuthor
	}
	for i := range changed {
		r.events.announce(ctx, realtime.OpUpdate, realtime.GroupMessages, &changed[i])
	}
	return nil
}

func (r *GroupMessageRepository) DeleteGroupMessageForEveryone(ctx context.Context, id, senderID uint) error {
	return r.deleteAsAuthor(ctx, id, senderID, map[string]interface{}{
		"deleted_for_everyone": true,
		"content":              nil,
	})
}

func (r *GroupMessageRepository) DeleteGroupMessageForSender(ctx context.Context, id, senderID uint) error {
	return r.deleteAsAuthor(ctx, id, senderID, map[string]interface{}{
		"deleted_for_sender": true,
	})
}
