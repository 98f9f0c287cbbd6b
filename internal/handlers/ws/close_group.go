package ws

// MessageCloseGroup tells the server the client left the open group view, so
// live group messages stop being appended to the session timeline.
type MessageCloseGroup struct {
}

func (msg *MessageCloseGroup) GetType() string {
	return MsgCloseGroup
}

func (msg *MessageCloseGroup) Process(ctx *MessageContext) error {
	ctx.Session.Groups.CloseGroup()
	return nil
}
