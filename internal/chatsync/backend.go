package chatsync

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/realtime"
	"github.com/rs/zerolog"
)

var (
	ErrEmptyMessage     = errors.New("message has no content and no attachments")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrNotMember        = errors.New("not a member of this group")
	ErrNotAuthor        = errors.New("only the author can delete this message from the group")
	ErrMessageNotFound  = errors.New("message not found")
	ErrStorageMissing   = errors.New("object storage not configured")
	ErrPartialUpload    = errors.New("some attachments failed to upload")
	ErrSessionClosed    = errors.New("session closed")
	ErrRouterStopped    = errors.New("event router stopped")
	ErrNoGroupSelected  = errors.New("no group is open")
	ErrEmptyEmoji       = errors.New("emoji is required")
)

// DirectMessageBackend is the persistence side of direct messages.
type DirectMessageBackend interface {
	InsertDirect(ctx context.Context, msg *models.DirectMessage) error
	FindDirectByID(ctx context.Context, id uint) (*models.DirectMessage, error)
	FindDirectByIDs(ctx context.Context, ids []uint) ([]models.DirectMessage, error)
	ListDirectConversation(ctx context.Context, userID, peerID uint) ([]models.DirectMessage, error)
	ListDirectForUser(ctx context.Context, userID uint) ([]models.DirectMessage, error)
	DeleteDirectForEveryone(ctx context.Context, id, senderID uint) error
	DeleteDirectForUser(ctx context.Context, id, userID uint) error
	MarkDirectRead(ctx context.Context, recipientID, senderID uint) (int64, error)
	MarkDirectDelivered(ctx context.Context, recipientID uint) (int64, error)
}

// GroupMessageBackend is the persistence side of group chats.
type GroupMessageBackend interface {
	InsertGroupMessage(ctx context.Context, msg *models.GroupMessage) error
	FindGroupMessageByID(ctx context.Context, id uint) (*models.GroupMessage, error)
	FindGroupMessagesByIDs(ctx context.Context, ids []uint) ([]models.GroupMessage, error)
	ListGroupMessages(ctx context.Context, groupID uint) ([]models.GroupMessage, error)
	DeleteGroupMessageForEveryone(ctx context.Context, id, senderID uint) error
	DeleteGroupMessageForSender(ctx context.Context, id, senderID uint) error
	IsGroupMember(ctx context.Context, groupID, userID uint) (bool, error)
	ListGroupMemberIDs(ctx context.Context, groupID uint) ([]uint, error)
	ListGroupSummaries(ctx context.Context, userID uint) ([]models.GroupSummary, error)
	MarkGroupRead(ctx context.Context, groupID, userID, lastReadMessageID uint) error
}

type AttachmentBackend interface {
	InsertAttachment(ctx context.Context, att *models.Attachment) error
	ListAttachments(ctx context.Context, scope models.Scope, messageIDs []uint) ([]models.Attachment, error)
}

type ReactionBackend interface {
	UpsertReaction(ctx context.Context, scope models.Scope, r *models.Reaction) error
	RemoveReaction(ctx context.Context, scope models.Scope, messageID, userID uint) error
	ListReactions(ctx context.Context, scope models.Scope, messageIDs []uint) ([]models.Reaction, error)
}

type PresenceBackend interface {
	// UpsertPresence writes the user's single presence row. When withTyping is
	// false the typing columns of an existing row are left untouched.
	UpsertPresence(ctx context.Context, p *models.Presence, withTyping bool) error
	ListPresence(ctx context.Context, userIDs []uint) ([]models.Presence, error)
}

type ChatStateBackend interface {
	ListChatStates(ctx context.Context, userID uint) ([]models.ChatState, error)
	SaveChatState(ctx context.Context, state *models.ChatState) error
}

// Backend groups every table the sync core writes to.
type Backend interface {
	DirectMessageBackend
	GroupMessageBackend
	AttachmentBackend
	ReactionBackend
	PresenceBackend
	ChatStateBackend
}

// ProfileDirectory resolves display identity in batches. Missing ids are
// simply absent from the result.
type ProfileDirectory interface {
	Profiles(ctx context.Context, ids []uint) (map[uint]models.Profile, error)
}

// ObjectStore uploads attachment bytes and signs time-limited URLs.
type ObjectStore interface {
	Upload(ctx context.Context, path string, body io.Reader, size int64, contentType string) error
	Sign(ctx context.Context, path string, ttl time.Duration) (string, error)
}

type Notification struct {
	Kind      string `json:"kind"`
	MessageID uint   `json:"message_id"`
	SenderID  uint   `json:"sender_id"`
	GroupID   uint   `json:"group_id,omitempty"`
	Preview   string `json:"preview"`
}

// Notifier is fire-and-forget; its errors never affect the sync state.
type Notifier interface {
	Notify(ctx context.Context, userIDs []uint, n Notification) error
}

// Subscriber opens a row-change feed for one stream.
type Subscriber interface {
	Subscribe(ctx context.Context, stream realtime.Stream) (realtime.Subscription, error)
}

type Config struct {
	RebuildDebounce  time.Duration
	PresenceDebounce time.Duration
	// TypingExpiry hides typing indicators older than this. Zero keeps them
	// until the remote side clears them.
	TypingExpiry     time.Duration
	AttachmentURLTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		RebuildDebounce:  300 * time.Millisecond,
		PresenceDebounce: 300 * time.Millisecond,
		AttachmentURLTTL: time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RebuildDebounce <= 0 {
		c.RebuildDebounce = d.RebuildDebounce
	}
	if c.PresenceDebounce <= 0 {
		c.PresenceDebounce = d.PresenceDebounce
	}
	if c.AttachmentURLTTL <= 0 {
		c.AttachmentURLTTL = d.AttachmentURLTTL
	}
	return c
}

// Deps are the external collaborators shared by every session.
type Deps struct {
	Backend  Backend
	Profiles ProfileDirectory
	Objects  ObjectStore
	Notifier Notifier
	Bus      Subscriber
	Previews *PreviewRegistry
	Metrics  *Metrics
	Log      zerolog.Logger
	Config   Config
}
