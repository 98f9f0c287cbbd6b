package repository

import (
	"context"
	"fmt"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/realtime"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReactionRepository struct {
	db     *gorm.DB
	events rowEvents
}

func NewReactionRepository(db *gorm.DB, events rowEvents) *ReactionRepository {
	return &ReactionRepository{db: db, events: events}
}

type upsertedReaction struct {
	models.Reaction
	Inserted bool `gorm:"column:inserted"`
}

// UpsertReaction sets the user's single reaction on a message, replacing
// any previous emoji. reaction is filled with the stored row.
func (r *ReactionRepository) UpsertReaction(ctx context.Context, scope models.Scope, reaction *models.Reaction) error {
	table := models.ReactionTable(scope)
	query := fmt.Sprintf(`
		INSERT INTO %s (message_id, user_id, emoji, created_at)
		VALUES (?, ?, ?, NOW())
		ON CONFLICT (message_id, user_id) DO UPDATE
		SET emoji = EXCLUDED.emoji
		RETURNING id, created_at, message_id, user_id, emoji, (xmax = 0) AS inserted
	`, table)

	var row upsertedReaction
	if err := r.db.WithContext(ctx).Raw(query, reaction.MessageID, reaction.UserID, reaction.Emoji).Scan(&row).Error; err != nil {
		return err
	}
	*reaction = row.Reaction
	op := realtime.OpUpdate
	if row.Inserted {
		op = realtime.OpInsert
	}
	r.events.announce(ctx, op, reactionStream(scope), &row.Reaction)
	return nil
}

func (r *ReactionRepository) RemoveReaction(ctx context.Context, scope models.Scope, messageID, userID uint) error {
	var removed []models.Reaction
	err := r.db.WithContext(ctx).
		Table(models.ReactionTable(scope)).
		Clauses(clause.Returning{}).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Delete(&removed).Error
	if err != nil {
		return err
	}
	for i := range removed {
		r.events.announce(ctx, realtime.OpDelete, reactionStream(scope), &removed[i])
	}
	return nil
}

func (r *ReactionRepository) ListReactions(ctx context.Context, scope models.Scope, messageIDs []uint) ([]models.Reaction, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var out []models.Reaction
	err := r.db.WithContext(ctx).
		Table(models.ReactionTable(scope)).
		Where("message_id IN ?", messageIDs).
		Order("id ASC").
		Find(&out).Error
	return out, err
}
