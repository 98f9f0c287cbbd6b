package ws

// MessageResubscribe asks the server to reopen every row-change stream after
// the client noticed a gap.
type MessageResubscribe struct {
}

func (msg *MessageResubscribe) GetType() string {
	return MsgResubscribe
}

func (msg *MessageResubscribe) Process(ctx *MessageContext) error {
	return ctx.Session.Resubscribe(ctx.Ctx)
}
