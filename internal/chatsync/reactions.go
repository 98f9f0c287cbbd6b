package chatsync

import (
	"context"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/rs/zerolog"
)

// ApplyReaction returns list with r as the only reaction from r.UserID.
// The input slice is not modified.
func ApplyReaction(list []models.Reaction, r models.Reaction) []models.Reaction {
	out := WithoutReaction(list, r.UserID)
	return append(out, r)
}

// WithoutReaction returns list minus any reaction from userID.
func WithoutReaction(list []models.Reaction, userID uint) []models.Reaction {
	out := make([]models.Reaction, 0, len(list)+1)
	for _, existing := range list {
		if existing.UserID != userID {
			out = append(out, existing)
		}
	}
	return out
}

// mergeReactions adds fetched reactions for users the local list has no
// entry for. Local entries are newer than any fetch.
func mergeReactions(local, fetched []models.Reaction) []models.Reaction {
	out := append([]models.Reaction(nil), local...)
	for _, r := range fetched {
		found := false
		for _, l := range out {
			if l.UserID == r.UserID {
				found = true
				break
			}
		}
		if !found {
			out = append(out, r)
		}
	}
	return out
}

// ReactionLedger performs the authoritative side of reaction changes.
type ReactionLedger struct {
	backend ReactionBackend
	log     zerolog.Logger
}

func NewReactionLedger(backend ReactionBackend, log zerolog.Logger) *ReactionLedger {
	return &ReactionLedger{backend: backend, log: log.With().Str("component", "reactions").Logger()}
}

// Upsert stores r keyed by (message, user), replacing any earlier emoji.
func (l *ReactionLedger) Upsert(ctx context.Context, scope models.Scope, r models.Reaction) error {
	return l.backend.UpsertReaction(ctx, scope, &r)
}

func (l *ReactionLedger) Remove(ctx context.Context, scope models.Scope, messageID, userID uint) error {
	return l.backend.RemoveReaction(ctx, scope, messageID, userID)
}

// Resolve groups the persisted reactions of messageIDs by message.
func (l *ReactionLedger) Resolve(ctx context.Context, scope models.Scope, messageIDs []uint) map[uint][]models.Reaction {
	out := make(map[uint][]models.Reaction)
	if len(messageIDs) == 0 {
		return out
	}
	rows, err := l.backend.ListReactions(ctx, scope, messageIDs)
	if err != nil {
		l.log.Warn().Err(err).Msg("reaction lookup failed")
		return out
	}
	for _, r := range rows {
		out[r.MessageID] = ApplyReaction(out[r.MessageID], r)
	}
	return out
}
