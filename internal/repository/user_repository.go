package repository

import (
	"context"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"gorm.io/gorm"
)

// UserRepository reads profiles owned by the identity service.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Profiles resolves ids in one query. Unknown ids are absent from the map.
func (r *UserRepository) Profiles(ctx context.Context, ids []uint) (map[uint]models.Profile, error) {
	out := make(map[uint]models.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for i := range users {
		out[users[i].ID] = users[i].ToProfile()
	}
	return out, nil
}
