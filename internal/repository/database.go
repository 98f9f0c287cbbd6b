package repository

import (
	"context"
	"fmt"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/config"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/realtime"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table the sync core reads and writes.
// The two reaction tables share one row shape and are unique per
// (message, user).
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.DirectMessage{},
		&models.GroupChat{},
		&models.GroupMember{},
		&models.GroupMessage{},
		&models.GroupReadState{},
		&models.Attachment{},
		&models.Presence{},
		&models.ChatState{},
	); err != nil {
		return err
	}
	for _, table := range []string{models.DirectReactionTable, models.GroupReactionTable} {
		if err := db.Table(table).AutoMigrate(&models.Reaction{}); err != nil {
			return fmt.Errorf("migrate %s: %w", table, err)
		}
		stmt := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_message_user ON %s (message_id, user_id)", table, table)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("index %s: %w", table, err)
		}
	}
	return nil
}

// rowEvents announces committed rows on the bus. A failed publish is logged
// and never fails the write that caused it.
type rowEvents struct {
	bus realtime.Publisher
	log zerolog.Logger
}

func (e rowEvents) announce(ctx context.Context, op realtime.Op, stream realtime.Stream, row interface{}) {
	if e.bus == nil {
		return
	}
	if err := realtime.Announce(context.WithoutCancel(ctx), e.bus, op, stream, row); err != nil {
		e.log.Warn().Err(err).Str("stream", string(stream)).Str("op", string(op)).Msg("publish row change")
	}
}

func reactionStream(scope models.Scope) realtime.Stream {
	if scope == models.GroupScope {
		return realtime.GroupReactions
	}
	return realtime.DirectReactions
}
