package repository

import (
	"context"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ChatStateRepository struct {
	db *gorm.DB
}

func NewChatStateRepository(db *gorm.DB) *ChatStateRepository {
	return &ChatStateRepository{db: db}
}

func (r *ChatStateRepository) ListChatStates(ctx context.Context, userID uint) ([]models.ChatState, error) {
	var states []models.ChatState
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&states).Error
	return states, err
}

func (r *ChatStateRepository) SaveChatState(ctx context.Context, state *models.ChatState) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "peer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"pinned", "archived", "hidden_at", "updated_at"}),
	}).Create(state).Error
}
