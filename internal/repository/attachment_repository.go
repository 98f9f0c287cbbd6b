package repository

import (
	"context"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"gorm.io/gorm"
)

type AttachmentRepository struct {
	db *gorm.DB
}

func NewAttachmentRepository(db *gorm.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

func (r *AttachmentRepository) InsertAttachment(ctx context.Context, att *models.Attachment) error {
	return r.db.WithContext(ctx).Create(att).Error
}

func (r *AttachmentRepository) ListAttachments(ctx context.Context, scope models.Scope, messageIDs []uint) ([]models.Attachment, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var out []models.Attachment
	err := r.db.WithContext(ctx).
		Where("scope = ? AND message_id IN ?", scope, messageIDs).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}
