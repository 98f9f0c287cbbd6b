package ws

import "github.com/laserpointoman-commits/talebEdu-sub002/internal/chatsync"

// MessageTyping starts or stops the typing indicator towards a peer.
type MessageTyping struct {
	PeerID   uint `json:"peer_id"`
	IsTyping bool `json:"is_typing"`
}

func (msg *MessageTyping) GetType() string {
	return MsgTyping
}

func (msg *MessageTyping) Process(ctx *MessageContext) error {
	if msg.IsTyping && (msg.PeerID == 0 || msg.PeerID == ctx.UserID) {
		return chatsync.ErrInvalidRecipient
	}
	reportOutcome(ctx, "typing", ctx.Session.Presence.SetTyping(msg.PeerID, msg.IsTyping))
	return nil
}
