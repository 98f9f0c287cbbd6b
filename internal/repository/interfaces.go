package repository

import (
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/chatsync"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/realtime"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Store is the postgres-backed chatsync.Backend. Writes to the five synced
// tables are announced on bus once committed.
type Store struct {
	*MessageRepository
	*GroupMessageRepository
	*GroupRepository
	*GroupReadStateRepository
	*AttachmentRepository
	*ReactionRepository
	*PresenceRepository
	*ChatStateRepository
}

func NewStore(db *gorm.DB, bus realtime.Publisher, log zerolog.Logger) *Store {
	events := rowEvents{bus: bus, log: log.With().Str("component", "repository").Logger()}
	return &Store{
		MessageRepository:        NewMessageRepository(db, events),
		GroupMessageRepository:   NewGroupMessageRepository(db, events),
		GroupRepository:          NewGroupRepository(db),
		GroupReadStateRepository: NewGroupReadStateRepository(db),
		AttachmentRepository:     NewAttachmentRepository(db),
		ReactionRepository:       NewReactionRepository(db, events),
		PresenceRepository:       NewPresenceRepository(db, events),
		ChatStateRepository:      NewChatStateRepository(db),
	}
}

var (
	_ chatsync.Backend          = (*Store)(nil)
	_ chatsync.ProfileDirectory = (*UserRepository)(nil)
)
