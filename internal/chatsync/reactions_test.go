package chatsync

import (
	"context"
	"errors"
	"testing"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
)

func TestApplyReactionKeepsOnePerUser(t *testing.T) {
	tests := []struct {
		name  string
		steps []models.Reaction
		want  map[uint]string
	}{
		{
			name:  "replace own emoji",
			steps: []models.Reaction{{UserID: 1, Emoji: "👍"}, {UserID: 1, Emoji: "❤️"}},
			want:  map[uint]string{1: "❤️"},
		},
		{
			name:  "different users accumulate",
			steps: []models.Reaction{{UserID: 1, Emoji: "👍"}, {UserID: 2, Emoji: "👍"}, {UserID: 1, Emoji: "😂"}},
			want:  map[uint]string{1: "😂", 2: "👍"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var list []models.Reaction
			for _, r := range tt.steps {
				list = ApplyReaction(list, r)
			}
			if len(list) != len(tt.want) {
				t.Fatalf("reactions = %+v, want %v", list, tt.want)
			}
			for _, r := range list {
				if tt.want[r.UserID] != r.Emoji {
					t.Errorf("user %d emoji = %q, want %q", r.UserID, r.Emoji, tt.want[r.UserID])
				}
			}
		})
	}
}

func TestWithoutReactionIsIdempotent(t *testing.T) {
	list := []models.Reaction{{UserID: 1, Emoji: "👍"}, {UserID: 2, Emoji: "🎉"}}
	once := WithoutReaction(list, 1)
	twice := WithoutReaction(once, 1)
	if len(once) != 1 || len(twice) != 1 || twice[0].UserID != 2 {
		t.Errorf("once = %+v, twice = %+v", once, twice)
	}
	if len(list) != 2 {
		t.Errorf("input modified: %+v", list)
	}
}

func TestTwoReactionsFromSameUserLeaveTheLatest(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	sender := h.messageStore(1)
	reader := h.messageStore(2)

	msg, _, err := sender.Send(ctx, SendInput{PeerID: 2, Content: "exam moved to friday"})
	if err != nil {
		t.Fatal(err)
	}
	row := h.backend.directRow(msg.ID)
	reader.ApplyInsert(&row)
	reader.settle()

	for _, emoji := range []string{"👍", "❤️"} {
		if err := reader.React(ctx, msg.ID, emoji).Wait(ctx); err != nil {
			t.Fatalf("React(%s) = %v", emoji, err)
		}
	}

	// The pushed confirmations arrive on the sender's side in order.
	stored, _ := h.backend.ListReactions(ctx, models.DirectScope, []uint{msg.ID})
	for i := range stored {
		sender.ApplyReaction(&stored[i])
		sender.ApplyReaction(&stored[i])
	}

	for name, store := range map[string]*MessageStore{"reader": reader, "sender": sender} {
		got, _ := store.Message(msg.ID)
		if len(got.Reactions) != 1 || got.Reactions[0].Emoji != "❤️" || got.Reactions[0].UserID != 2 {
			t.Errorf("%s reactions = %+v, want one ❤️ from user 2", name, got.Reactions)
		}
	}
	if len(stored) != 1 {
		t.Errorf("backend rows = %d, want 1", len(stored))
	}
}

func TestUnreactRemovesLocallyAndOnBackend(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	store := h.messageStore(1)

	msg, _, _ := store.Send(ctx, SendInput{PeerID: 2, Content: "hi"})
	store.React(ctx, msg.ID, "👍")
	if err := store.Unreact(ctx, msg.ID).Wait(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Message(msg.ID)
	if len(got.Reactions) != 0 {
		t.Errorf("local reactions = %+v", got.Reactions)
	}
	rows, _ := h.backend.ListReactions(ctx, models.DirectScope, []uint{msg.ID})
	if len(rows) != 0 {
		t.Errorf("backend reactions = %+v", rows)
	}
}

func TestReactFailureKeepsOptimisticReaction(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	store := h.messageStore(1)

	msg, _, _ := store.Send(ctx, SendInput{PeerID: 2, Content: "hi"})
	h.backend.failReactions = true

	if err := store.React(ctx, msg.ID, "🔥").Err(); !errors.Is(err, errBackendDown) {
		t.Fatalf("outcome = %v, want errBackendDown", err)
	}
	got, _ := store.Message(msg.ID)
	if len(got.Reactions) != 1 {
		t.Errorf("optimistic reaction rolled back: %+v", got.Reactions)
	}
	if err := store.React(ctx, msg.ID, " ").Err(); !errors.Is(err, ErrEmptyEmoji) {
		t.Errorf("blank emoji outcome = %v", err)
	}
}
