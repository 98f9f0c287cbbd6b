package ws

// MessagePing is a keepalive ping from client
type MessagePing struct {
}

func (msg *MessagePing) GetType() string {
	return MsgPing
}

func (msg *MessagePing) Process(ctx *MessageContext) error {
	return ctx.Hub.Send(ctx.Client, MsgPong, nil)
}

// MessagePong is a pong response (in case client wants to track latency)
type MessagePong struct {
}

func (msg *MessagePong) GetType() string {
	return MsgPong
}

func (msg *MessagePong) Process(ctx *MessageContext) error {
	return nil
}
