package ws

import (
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/chatsync"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/validation"
)

// MessageReact sets or clears the user's reaction on a message. GroupID
// selects a group message; zero means a direct message.
type MessageReact struct {
	MessageID uint   `json:"message_id"`
	GroupID   uint   `json:"group_id,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
	Remove    bool   `json:"remove,omitempty"`
}

func (msg *MessageReact) GetType() string {
	return MsgReact
}

func (msg *MessageReact) Process(ctx *MessageContext) error {
	if msg.MessageID == 0 {
		return chatsync.ErrMessageNotFound
	}
	var emoji string
	if !msg.Remove {
		var err error
		if emoji, err = validation.NormalizeEmoji(msg.Emoji); err != nil {
			return err
		}
	}

	var out *chatsync.Outcome
	switch {
	case msg.GroupID != 0 && msg.Remove:
		out = ctx.Session.Groups.Unreact(ctx.Ctx, msg.GroupID, msg.MessageID)
	case msg.GroupID != 0:
		out = ctx.Session.Groups.React(ctx.Ctx, msg.GroupID, msg.MessageID, emoji)
	case msg.Remove:
		out = ctx.Session.Messages.Unreact(ctx.Ctx, msg.MessageID)
	default:
		out = ctx.Session.Messages.React(ctx.Ctx, msg.MessageID, emoji)
	}
	reportOutcome(ctx, "reaction", out)
	return nil
}
