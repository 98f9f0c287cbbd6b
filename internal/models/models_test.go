package models

import (
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestDirectMessageVisibleTo(t *testing.T) {
	tests := []struct {
		name    string
		msg     DirectMessage
		viewer  uint
		visible bool
	}{
		{"plain message to recipient", DirectMessage{SenderID: 1, RecipientID: 2}, 2, true},
		{"plain message to sender", DirectMessage{SenderID: 1, RecipientID: 2}, 1, true},
		{"stranger", DirectMessage{SenderID: 1, RecipientID: 2}, 3, false},
		{"deleted for everyone", DirectMessage{SenderID: 1, RecipientID: 2, DeletedForEveryone: true}, 2, false},
		{"sender side hidden from sender", DirectMessage{SenderID: 1, RecipientID: 2, DeletedForSender: true}, 1, false},
		{"sender side still visible to recipient", DirectMessage{SenderID: 1, RecipientID: 2, DeletedForSender: true}, 2, true},
		{"recipient side hidden from recipient", DirectMessage{SenderID: 1, RecipientID: 2, DeletedForRecipient: true}, 2, false},
		{"recipient side still visible to sender", DirectMessage{SenderID: 1, RecipientID: 2, DeletedForRecipient: true}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.VisibleTo(tt.viewer); got != tt.visible {
				t.Errorf("VisibleTo(%d) = %v, want %v", tt.viewer, got, tt.visible)
			}
		})
	}
}

func TestDirectMessageMergeFromIsMonotonic(t *testing.T) {
	now := time.Now()
	msg := DirectMessage{ID: 1, SenderID: 1, RecipientID: 2, Content: strPtr("hi")}

	msg.MergeFrom(&DirectMessage{ID: 1, IsRead: true, ReadAt: &now})
	if !msg.IsRead || !msg.IsDelivered {
		t.Fatalf("read must imply delivered, got read=%v delivered=%v", msg.IsRead, msg.IsDelivered)
	}

	// An older snapshot must not regress anything.
	msg.MergeFrom(&DirectMessage{ID: 1, Content: strPtr("hi")})
	if !msg.IsRead || !msg.IsDelivered {
		t.Errorf("delivery state regressed: read=%v delivered=%v", msg.IsRead, msg.IsDelivered)
	}

	msg.MergeFrom(&DirectMessage{ID: 1, DeletedForEveryone: true})
	if !msg.DeletedForEveryone || msg.Content != nil {
		t.Errorf("delete for everyone should blank content, got %v", msg.Content)
	}
	msg.MergeFrom(&DirectMessage{ID: 1, Content: strPtr("resurrected")})
	if !msg.DeletedForEveryone || msg.Content != nil {
		t.Errorf("deletion is one-way, got deleted=%v content=%v", msg.DeletedForEveryone, msg.Content)
	}
}

func TestDirectMessagePeerOf(t *testing.T) {
	msg := DirectMessage{SenderID: 7, RecipientID: 9}
	if got := msg.PeerOf(7); got != 9 {
		t.Errorf("PeerOf(sender) = %d, want 9", got)
	}
	if got := msg.PeerOf(9); got != 7 {
		t.Errorf("PeerOf(recipient) = %d, want 7", got)
	}
}

func TestCloneDoesNotShareSlices(t *testing.T) {
	msg := DirectMessage{ID: 1, Reactions: []Reaction{{UserID: 1, Emoji: "👍"}}}
	cp := msg.Clone()
	cp.Reactions[0].Emoji = "❤️"
	if msg.Reactions[0].Emoji != "👍" {
		t.Errorf("Clone shares reaction slice with original")
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name    string
		content *string
		kind    MessageKind
		deleted bool
		want    string
	}{
		{"text", strPtr("hello"), TextMessage, false, "hello"},
		{"deleted wins", strPtr("hello"), TextMessage, true, DeletedPreview},
		{"voice without text", nil, VoiceMessage, false, "Voice message"},
		{"image without text", strPtr(""), ImageMessage, false, "Photo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Preview(tt.content, tt.kind, tt.deleted); got != tt.want {
				t.Errorf("Preview = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAttachmentIsTransient(t *testing.T) {
	if !(&Attachment{ID: TransientPrefix + "abc"}).IsTransient() {
		t.Errorf("local- prefixed attachment should be transient")
	}
	if (&Attachment{ID: "0b7c"}).IsTransient() {
		t.Errorf("durable attachment reported as transient")
	}
}

func TestGroupReadStateUnread(t *testing.T) {
	state := GroupReadState{GroupID: 1, UserID: 5, LastReadMessageID: 10}
	tests := []struct {
		name   string
		msg    GroupMessage
		unread bool
	}{
		{"older message", GroupMessage{ID: 9, SenderID: 2}, false},
		{"newer from other member", GroupMessage{ID: 11, SenderID: 2}, true},
		{"newer from self", GroupMessage{ID: 12, SenderID: 5}, false},
		{"newer but deleted", GroupMessage{ID: 13, SenderID: 2, DeletedForEveryone: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := state.Unread(&tt.msg); got != tt.unread {
				t.Errorf("Unread = %v, want %v", got, tt.unread)
			}
		})
	}
}

func TestUserToProfile(t *testing.T) {
	u := User{ID: 3, Username: "amira", FullName: ""}
	if p := u.ToProfile(); p.DisplayName != "amira" {
		t.Errorf("DisplayName = %q, want username fallback", p.DisplayName)
	}
	if p := PlaceholderProfile(4); p.DisplayName != UnknownUserName || p.ID != 4 {
		t.Errorf("PlaceholderProfile = %+v", p)
	}
}
