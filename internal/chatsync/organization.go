package chatsync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/rs/zerolog"
)

// ChatOrganization is the viewer's pinned, archived and deleted overlay on
// the conversation list. It never touches message rows.
type ChatOrganization struct {
	selfID  uint
	backend ChatStateBackend
	metrics *Metrics
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	states   map[uint]models.ChatState
	onChange func()
}

func NewChatOrganization(selfID uint, backend ChatStateBackend, metrics *Metrics, log zerolog.Logger) *ChatOrganization {
	return &ChatOrganization{
		selfID:  selfID,
		backend: backend,
		metrics: metrics,
		log:     log.With().Str("component", "organization").Logger(),
		now:     time.Now,
		states:  make(map[uint]models.ChatState),
	}
}

func (o *ChatOrganization) OnChange(fn func()) {
	o.mu.Lock()
	o.onChange = fn
	o.mu.Unlock()
}

func (o *ChatOrganization) Load(ctx context.Context) error {
	rows, err := o.backend.ListChatStates(ctx, o.selfID)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.states = make(map[uint]models.ChatState, len(rows))
	for _, st := range rows {
		o.states[st.PeerID] = st
	}
	o.mu.Unlock()
	return nil
}

// State returns the overlay for peerID; the zero state when none is stored.
func (o *ChatOrganization) State(peerID uint) models.ChatState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, ok := o.states[peerID]
	if !ok {
		return models.ChatState{UserID: o.selfID, PeerID: peerID}
	}
	return st
}

func (o *ChatOrganization) Pin(ctx context.Context, peerID uint, pinned bool) *Outcome {
	return o.apply(ctx, peerID, "pin", func(st *models.ChatState) { st.Pinned = pinned })
}

func (o *ChatOrganization) Archive(ctx context.Context, peerID uint, archived bool) *Outcome {
	return o.apply(ctx, peerID, "archive", func(st *models.ChatState) { st.Archived = archived })
}

// Delete hides the conversation until a message newer than now arrives.
func (o *ChatOrganization) Delete(ctx context.Context, peerID uint) *Outcome {
	at := o.now().UTC()
	return o.apply(ctx, peerID, "delete", func(st *models.ChatState) {
		st.HiddenAt = &at
		st.Pinned = false
	})
}

func (o *ChatOrganization) Restore(ctx context.Context, peerID uint) *Outcome {
	return o.apply(ctx, peerID, "restore", func(st *models.ChatState) {
		st.HiddenAt = nil
		st.Archived = false
	})
}

func (o *ChatOrganization) apply(ctx context.Context, peerID uint, op string, fn func(*models.ChatState)) *Outcome {
	if peerID == 0 || peerID == o.selfID {
		return resolvedOutcome(ErrInvalidRecipient)
	}
	o.mu.Lock()
	st, ok := o.states[peerID]
	if !ok {
		st = models.ChatState{UserID: o.selfID, PeerID: peerID}
	}
	fn(&st)
	st.UpdatedAt = o.now().UTC()
	o.states[peerID] = st
	notify := o.onChange
	o.mu.Unlock()
	if notify != nil {
		notify()
	}

	err := o.backend.SaveChatState(ctx, &st)
	if err != nil {
		o.log.Warn().Err(err).Str("op", op).Uint("peer_id", peerID).Msg("chat state write failed")
		o.metrics.writeFailed("chat_state_" + op)
	}
	return resolvedOutcome(err)
}

// Overlay applies pinned and archived flags, drops conversations deleted
// after their latest message, and orders pinned rows first, then by recent
// activity.
func (o *ChatOrganization) Overlay(convs []models.Conversation) []models.Conversation {
	o.mu.RLock()
	out := make([]models.Conversation, 0, len(convs))
	for _, c := range convs {
		st, ok := o.states[c.PeerID]
		if ok {
			if st.HiddenAt != nil && !c.LastMessageAt.After(*st.HiddenAt) {
				continue
			}
			c.Pinned = st.Pinned
			c.Archived = st.Archived
		}
		out = append(out, c)
	}
	o.mu.RUnlock()
	sortConversations(out)
	return out
}

func sortConversations(convs []models.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i], convs[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return a.PeerID < b.PeerID
	})
}
