package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/rs/zerolog"
)

// conversationSource is what the aggregator reads from the backend.
type conversationSource interface {
	ListDirectForUser(ctx context.Context, userID uint) ([]models.DirectMessage, error)
	ListPresence(ctx context.Context, userIDs []uint) ([]models.Presence, error)
}

// Aggregate derives one conversation per correspondent of selfID. Messages
// the viewer removed from their own side are ignored entirely; a message
// deleted for everyone still counts as latest activity and previews as the
// deleted sentinel. Missing profiles become placeholders.
func Aggregate(selfID uint, messages []models.DirectMessage, profiles map[uint]models.Profile, presence map[uint]models.Presence) []models.Conversation {
	type acc struct {
		latest *models.DirectMessage
		unread int
	}
	byPeer := make(map[uint]*acc)
	order := make([]uint, 0)

	for i := range messages {
		m := &messages[i]
		if !m.Involves(selfID) || m.HiddenBySide(selfID) {
			continue
		}
		peer := m.PeerOf(selfID)
		a, ok := byPeer[peer]
		if !ok {
			a = &acc{}
			byPeer[peer] = a
			order = append(order, peer)
		}
		if a.latest == nil || newer(m, a.latest) {
			a.latest = m
		}
		if m.VisibleTo(selfID) && m.RecipientID == selfID && m.SenderID == peer && !m.IsRead {
			a.unread++
		}
	}

	out := make([]models.Conversation, 0, len(order))
	for _, peer := range order {
		a := byPeer[peer]
		p, ok := profiles[peer]
		if !ok {
			p = models.PlaceholderProfile(peer)
		}
		c := models.Conversation{
			PeerID:             peer,
			DisplayName:        p.DisplayName,
			Avatar:             p.AvatarURL,
			LastMessage:        models.Preview(a.latest.Content, a.latest.Kind, a.latest.DeletedForEveryone),
			LastMessageDeleted: a.latest.DeletedForEveryone,
			LastMessageAt:      a.latest.CreatedAt,
			UnreadCount:        a.unread,
		}
		if pr, ok := presence[peer]; ok {
			c.IsOnline = pr.IsOnline
			c.LastSeen = pr.LastSeen
		}
		out = append(out, c)
	}
	sortConversations(out)
	return out
}

func newer(a, b *models.DirectMessage) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// ConversationAggregator keeps the viewer's conversation list. Rebuilds run
// on demand or, coalesced, after bursts of pushed changes.
type ConversationAggregator struct {
	selfID   uint
	source   conversationSource
	profiles ProfileDirectory
	presence *PresenceTracker
	org      *ChatOrganization
	metrics  *Metrics
	log      zerolog.Logger
	ctx      context.Context

	mu       sync.RWMutex
	convs    []models.Conversation
	onChange func([]models.Conversation)
	trigger  *Trigger
}

func NewConversationAggregator(ctx context.Context, selfID uint, source conversationSource, profiles ProfileDirectory, presence *PresenceTracker, org *ChatOrganization, metrics *Metrics, debounce time.Duration, log zerolog.Logger) *ConversationAggregator {
	a := &ConversationAggregator{
		selfID:   selfID,
		source:   source,
		profiles: profiles,
		presence: presence,
		org:      org,
		metrics:  metrics,
		log:      log.With().Str("component", "conversations").Uint("user_id", selfID).Logger(),
		ctx:      ctx,
	}
	a.trigger = NewTrigger(debounce, func() {
		if _, err := a.Rebuild(a.ctx); err != nil {
			a.log.Warn().Err(err).Msg("scheduled rebuild failed")
		}
	})
	return a
}

func (a *ConversationAggregator) OnChange(fn func([]models.Conversation)) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// Schedule asks for a rebuild after the debounce window. Calls made while
// one is pending are absorbed by it.
func (a *ConversationAggregator) Schedule() bool {
	return a.trigger.Schedule()
}

// Rebuild recomputes the list from the full message history plus profile and
// presence lookups. Lookup failures degrade to placeholders.
func (a *ConversationAggregator) Rebuild(ctx context.Context) ([]models.Conversation, error) {
	messages, err := a.source.ListDirectForUser(ctx, a.selfID)
	if err != nil {
		return nil, err
	}

	peers := distinctPeers(a.selfID, messages)
	profiles := map[uint]models.Profile{}
	if a.profiles != nil && len(peers) > 0 {
		if found, err := a.profiles.Profiles(ctx, peers); err != nil {
			a.log.Warn().Err(err).Msg("profile lookup failed")
		} else {
			profiles = found
		}
	}
	presence := make(map[uint]models.Presence, len(peers))
	if len(peers) > 0 {
		rows, err := a.source.ListPresence(ctx, peers)
		if err != nil {
			a.log.Warn().Err(err).Msg("presence lookup failed")
		}
		for _, p := range rows {
			presence[p.UserID] = p
		}
	}
	if a.presence != nil {
		for _, id := range peers {
			if p, ok := a.presence.Lookup(id); ok {
				presence[id] = p
			}
		}
	}

	convs := Aggregate(a.selfID, messages, profiles, presence)
	for i := range convs {
		convs[i].IsTyping = a.presence != nil && a.presence.IsTyping(convs[i].PeerID)
	}
	if a.org != nil {
		convs = a.org.Overlay(convs)
	}

	a.metrics.rebuilt()
	a.publish(convs)
	return cloneConversations(convs), nil
}

func distinctPeers(selfID uint, messages []models.DirectMessage) []uint {
	seen := make(map[uint]struct{})
	out := make([]uint, 0)
	for i := range messages {
		if !messages[i].Involves(selfID) {
			continue
		}
		peer := messages[i].PeerOf(selfID)
		if _, ok := seen[peer]; !ok {
			seen[peer] = struct{}{}
			out = append(out, peer)
		}
	}
	return out
}

// ApplyPresence patches a correspondent's online, last-seen and typing state
// without a full rebuild.
func (a *ConversationAggregator) ApplyPresence(row models.Presence) bool {
	a.mu.Lock()
	found := false
	for i := range a.convs {
		if a.convs[i].PeerID != row.UserID {
			continue
		}
		a.convs[i].IsOnline = row.IsOnline
		a.convs[i].LastSeen = row.LastSeen
		a.convs[i].IsTyping = a.presence != nil && a.presence.IsTyping(row.UserID)
		found = true
		break
	}
	snapshot := cloneConversations(a.convs)
	fn := a.onChange
	a.mu.Unlock()
	if found && fn != nil {
		fn(snapshot)
	}
	return found
}

func (a *ConversationAggregator) publish(convs []models.Conversation) {
	a.mu.Lock()
	a.convs = convs
	fn := a.onChange
	snapshot := cloneConversations(convs)
	a.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
}

// Conversations returns the last built list.
func (a *ConversationAggregator) Conversations() []models.Conversation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return cloneConversations(a.convs)
}

func (a *ConversationAggregator) stop() {
	a.trigger.Stop()
}

func cloneConversations(in []models.Conversation) []models.Conversation {
	return append([]models.Conversation(nil), in...)
}
