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

type MessageRepository struct {
	db     *gorm.DB
	events rowEvents
}

func NewMessageRepository(db *gorm.DB, events rowEvents) *MessageRepository {
	return &MessageRepository{db: db, events: events}
}

// directRow strips the read-time fields so only the stored row goes out.
func directRow(m models.DirectMessage) *models.DirectMessage {
	m.ReplyTo, m.Attachments, m.Reactions = nil, nil, nil
	return &m
}

func (r *MessageRepository) InsertDirect(ctx context.Context, msg *models.DirectMessage) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return err
	}
	r.events.announce(ctx, realtime.OpInsert, realtime.DirectMessages, directRow(*msg))
	return nil
}

func (r *MessageRepository) FindDirectByID(ctx context.Context, id uint) (*models.DirectMessage, error) {
	var message models.DirectMessage
	err := r.db.WithContext(ctx).First(&message, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, chatsync.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *MessageRepository) FindDirectByIDs(ctx context.Context, ids []uint) ([]models.DirectMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var messages []models.DirectMessage
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&messages).Error
	return messages, err
}

func (r *MessageRepository) ListDirectConversation(ctx context.Context, userID, peerID uint) ([]models.DirectMessage, error) {
	var messages []models.DirectMessage
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)",
			userID, peerID, peerID, userID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	return messages, err
}

func (r *MessageRepository) ListDirectForUser(ctx context.Context, userID uint) ([]models.DirectMessage, error) {
	var messages []models.DirectMessage
	err := r.db.WithContext(ctx).
		Where("sender_id = ? OR recipient_id = ?", userID, userID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	return messages, err
}

// updateDirect applies values to the rows matched by query and announces
// every changed row.
func (r *MessageRepository) updateDirect(ctx context.Context, values map[string]interface{}, query string, args ...interface{}) ([]models.DirectMessage, error) {
	var changed []models.DirectMessage
	err := r.db.WithContext(ctx).
		Model(&changed).
		Clauses(clause.Returning{}).
		Where(query, args...).
		Updates(values).Error
	if err != nil {
		return nil, err
	}
	for i := range changed {
		r.events.announce(ctx, realtime.OpUpdate, realtime.DirectMessages, &changed[i])
	}
	return changed, nil
}

func (r *MessageRepository) DeleteDirectForEveryone(ctx context.Context, id, senderID uint) error {
	changed, err := r.updateDirect(ctx, map[string]interface{}{
		"deleted_for_everyone": true,
		"content":              nil,
	}, "id = ? AND sender_id = ?", id, senderID)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		if _, err := r.FindDirectByID(ctx, id); err != nil {
			return err
		}
		return chatsync.ErrNotAuthor
	}
	return nil
}

// DeleteDirectForUser sets whichever side flag belongs to userID.
func (r *MessageRepository) DeleteDirectForUser(ctx context.Context, id, userID uint) error {
	changed, err := r.updateDirect(ctx, map[string]interface{}{
		"deleted_for_sender":    gorm.Expr("deleted_for_sender OR sender_id = ?", userID),
		"deleted_for_recipient": gorm.Expr("deleted_for_recipient OR recipient_id = ?", userID),
	}, "id = ? AND (sender_id = ? OR recipient_id = ?)", id, userID, userID)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return chatsync.ErrMessageNotFound
	}
	return nil
}

// MarkDirectRead marks everything senderID sent to recipientID as read,
// delivering it first where needed.
func (r *MessageRepository) MarkDirectRead(ctx context.Context, recipientID, senderID uint) (int64, error) {
	changed, err := r.updateDirect(ctx, map[string]interface{}{
		"is_read":      true,
		"read_at":      gorm.Expr("NOW()"),
		"is_delivered": true,
		"delivered_at": gorm.Expr("COALESCE(delivered_at, NOW())"),
	}, "recipient_id = ? AND sender_id = ? AND is_read = false", recipientID, senderID)
	return int64(len(changed)), err
}

func (r *MessageRepository) MarkDirectDelivered(ctx context.Context, recipientID uint) (int64, error) {
	changed, err := r.updateDirect(ctx, map[string]interface{}{
		"is_delivered": true,
		"delivered_at": gorm.Expr("NOW()"),
	}, "recipient_id = ? AND is_delivered = false", recipientID)
	return int64(len(changed)), err
}
