package chatsync

import (
	"context"
	"testing"
	"time"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/rs/zerolog"
)

func newTracker(b *fakeBackend, selfID uint, debounce, expiry time.Duration) *PresenceTracker {
	return NewPresenceTracker(context.Background(), selfID, b, debounce, expiry, nil, zerolog.Nop())
}

func TestTypingRoundTripBetweenTwoUsers(t *testing.T) {
	b := newFakeBackend()
	alice := newTracker(b, 1, time.Hour, 0)
	bob := newTracker(b, 2, time.Hour, 0)
	ctx := context.Background()

	out := alice.SetTyping(2, true)
	alice.FlushTyping()
	if err := out.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	rows, _ := b.ListPresence(ctx, []uint{1})
	bob.Apply(rows[0])
	if !bob.IsTyping(1) {
		t.Fatal("bob does not see alice typing")
	}

	alice.SetTyping(2, false)
	alice.FlushTyping()
	rows, _ = b.ListPresence(ctx, []uint{1})
	if rows[0].TypingTo != nil {
		t.Fatalf("typing_to = %v, want nil", *rows[0].TypingTo)
	}
	bob.Apply(rows[0])
	if bob.IsTyping(1) {
		t.Error("bob still sees alice typing")
	}
}

func TestTypingToSomeoneElseClearsIndicator(t *testing.T) {
	tracker := newTracker(newFakeBackend(), 2, time.Hour, 0)
	me, other := uint(2), uint(9)

	tracker.Apply(models.Presence{UserID: 1, IsOnline: true, TypingTo: &me})
	tracker.Apply(models.Presence{UserID: 1, IsOnline: true, TypingTo: &other})
	if tracker.IsTyping(1) {
		t.Error("switching target should clear the indicator")
	}
	if p, ok := tracker.Lookup(1); !ok || !p.IsOnline {
		t.Errorf("Lookup = %+v, %v", p, ok)
	}
}

func TestSetTypingCoalescesBursts(t *testing.T) {
	b := newFakeBackend()
	tracker := newTracker(b, 1, 30*time.Millisecond, 0)

	var outs []*Outcome
	for i := 0; i < 5; i++ {
		outs = append(outs, tracker.SetTyping(2, true))
	}
	for _, o := range outs[1:] {
		if o != outs[0] {
			t.Fatal("coalesced calls should share one outcome")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := outs[0].Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if n := b.presenceWriteCount(); n != 1 {
		t.Errorf("presence writes = %d, want 1", n)
	}
}

func TestOwnPresenceRowsAreIgnored(t *testing.T) {
	tracker := newTracker(newFakeBackend(), 1, time.Hour, 0)
	target := uint(1)
	if tracker.Apply(models.Presence{UserID: 1, TypingTo: &target}) {
		t.Error("Apply accepted the local user's own row")
	}
}

func TestSetOnlineOfflineClearsTyping(t *testing.T) {
	b := newFakeBackend()
	tracker := newTracker(b, 1, time.Hour, 0)
	ctx := context.Background()

	tracker.SetTyping(2, true)
	tracker.FlushTyping()
	if err := tracker.SetOnline(ctx, true).Err(); err != nil {
		t.Fatal(err)
	}
	rows, _ := b.ListPresence(ctx, []uint{1})
	if rows[0].TypingTo == nil {
		t.Error("going online should not clear typing")
	}

	tracker.SetOnline(ctx, false)
	rows, _ = b.ListPresence(ctx, []uint{1})
	if rows[0].IsOnline || rows[0].TypingTo != nil {
		t.Errorf("offline row = %+v", rows[0])
	}
}

func TestTypingExpiry(t *testing.T) {
	tracker := newTracker(newFakeBackend(), 2, time.Hour, 10*time.Second)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }
	me := uint(2)
	started := now

	tracker.Apply(models.Presence{UserID: 1, TypingTo: &me, TypingStartedAt: &started})
	if !tracker.IsTyping(1) {
		t.Fatal("fresh typing not shown")
	}
	now = now.Add(11 * time.Second)
	if tracker.IsTyping(1) {
		t.Error("stale typing still shown")
	}
	if len(tracker.TypingUsers()) != 0 {
		t.Errorf("TypingUsers = %v", tracker.TypingUsers())
	}
}

func TestResetClearsStateAndPendingWrite(t *testing.T) {
	b := newFakeBackend()
	tracker := newTracker(b, 2, time.Hour, 0)
	me := uint(2)
	tracker.Apply(models.Presence{UserID: 1, TypingTo: &me})

	out := tracker.SetTyping(1, true)
	tracker.Reset()

	if tracker.IsTyping(1) {
		t.Error("typing set survived Reset")
	}
	if _, ok := tracker.Lookup(1); ok {
		t.Error("presence cache survived Reset")
	}
	if err := out.Err(); err != ErrSessionClosed {
		t.Errorf("pending outcome = %v, want ErrSessionClosed", err)
	}
	if b.presenceWriteCount() != 0 {
		t.Errorf("presence writes = %d, want 0", b.presenceWriteCount())
	}
}
