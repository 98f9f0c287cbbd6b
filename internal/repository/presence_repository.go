package repository

import (
	"context"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/realtime"
	"gorm.io/gorm"
)

type PresenceRepository struct {
	db     *gorm.DB
	events rowEvents
}

func NewPresenceRepository(db *gorm.DB, events rowEvents) *PresenceRepository {
	return &PresenceRepository{db: db, events: events}
}

const presenceReturning = `RETURNING user_id, is_online, last_seen, typing_to, typing_started_at, updated_at`

func (r *PresenceRepository) UpsertPresence(ctx context.Context, p *models.Presence, withTyping bool) error {
	query := `
		INSERT INTO presence (user_id, is_online, last_seen, typing_to, typing_started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET is_online = EXCLUDED.is_online,
			last_seen = EXCLUDED.last_seen,
			updated_at = NOW()
	` + presenceReturning
	if withTyping {
		query = `
		INSERT INTO presence (user_id, is_online, last_seen, typing_to, typing_started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET is_online = EXCLUDED.is_online,
			last_seen = EXCLUDED.last_seen,
			typing_to = EXCLUDED.typing_to,
			typing_started_at = EXCLUDED.typing_started_at,
			updated_at = NOW()
	` + presenceReturning
	}

	var row models.Presence
	err := r.db.WithContext(ctx).
		Raw(query, p.UserID, p.IsOnline, p.LastSeen, p.TypingTo, p.TypingStartedAt).
		Scan(&row).Error
	if err != nil {
		return err
	}
	r.events.announce(ctx, realtime.OpUpdate, realtime.Presence, &row)
	return nil
}

func (r *PresenceRepository) ListPresence(ctx context.Context, userIDs []uint) ([]models.Presence, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var out []models.Presence
	err := r.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&out).Error
	return out, err
}
