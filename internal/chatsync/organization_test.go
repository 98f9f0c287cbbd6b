package chatsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/rs/zerolog"
)

func TestOrganizationOverlay(t *testing.T) {
	b := newFakeBackend()
	org := NewChatOrganization(1, b, nil, zerolog.Nop())
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	org.now = func() time.Time { return at }

	convs := []models.Conversation{
		{PeerID: 2, LastMessageAt: at.Add(-3 * time.Minute)},
		{PeerID: 3, LastMessageAt: at.Add(-2 * time.Minute)},
		{PeerID: 4, LastMessageAt: at.Add(-1 * time.Minute)},
		{PeerID: 5, LastMessageAt: at.Add(time.Minute)},
	}
	org.Pin(ctx, 2, true)
	org.Archive(ctx, 3, true)
	org.Delete(ctx, 4)
	org.Delete(ctx, 5)

	got := org.Overlay(convs)
	var peers []uint
	for _, c := range got {
		peers = append(peers, c.PeerID)
	}
	want := []uint{2, 5, 3}
	if len(peers) != len(want) {
		t.Fatalf("peers = %v, want %v", peers, want)
	}
	for i := range want {
		if peers[i] != want[i] {
			t.Fatalf("peers = %v, want %v", peers, want)
		}
	}
	if !got[0].Pinned || !got[2].Archived {
		t.Errorf("flags = %+v", got)
	}
}

func TestOrganizationPersistsAndRestores(t *testing.T) {
	b := newFakeBackend()
	ctx := context.Background()
	org := NewChatOrganization(1, b, nil, zerolog.Nop())

	org.Archive(ctx, 2, true)
	org.Delete(ctx, 2)
	org.Restore(ctx, 2)

	reloaded := NewChatOrganization(1, b, nil, zerolog.Nop())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatal(err)
	}
	st := reloaded.State(2)
	if st.HiddenAt != nil || st.Archived {
		t.Errorf("state after restore = %+v", st)
	}
}

func TestOrganizationRejectsSelf(t *testing.T) {
	org := NewChatOrganization(1, newFakeBackend(), nil, zerolog.Nop())
	if err := org.Pin(context.Background(), 1, true).Err(); !errors.Is(err, ErrInvalidRecipient) {
		t.Errorf("Pin(self) = %v", err)
	}
}
