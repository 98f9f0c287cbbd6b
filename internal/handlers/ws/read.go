package ws

import "errors"

var errReadTarget = errors.New("read needs exactly one of peer_id or group_id")

// MessageRead marks a direct conversation or a group as read.
type MessageRead struct {
	PeerID  uint `json:"peer_id,omitempty"`
	GroupID uint `json:"group_id,omitempty"`
}

func (msg *MessageRead) GetType() string {
	return MsgRead
}

func (msg *MessageRead) Process(ctx *MessageContext) error {
	switch {
	case msg.GroupID != 0 && msg.PeerID == 0:
		return ctx.Session.Groups.MarkRead(ctx.Ctx, msg.GroupID)
	case msg.PeerID != 0 && msg.GroupID == 0:
		_, err := ctx.Session.Messages.MarkRead(ctx.Ctx, msg.PeerID)
		return err
	default:
		return errReadTarget
	}
}
