package ws

import (
	"reflect"
)

// Client frame types.
const (
	MsgPing        = "ping"
	MsgPong        = "pong"
	MsgTyping      = "typing"
	MsgRead        = "read"
	MsgReact       = "react"
	MsgResubscribe = "resubscribe"
	MsgCloseGroup  = "close_group"
)

// Server-only frame types. Session updates use their update kind.
const (
	MsgError        = "error"
	MsgNotification = "notification"
	MsgReady        = "ready"
)

var typeRegistry = map[string]reflect.Type{}

func init() {
	RegisterType(&MessagePing{})
	RegisterType(&MessagePong{})
	RegisterType(&MessageTyping{})
	RegisterType(&MessageRead{})
	RegisterType(&MessageReact{})
	RegisterType(&MessageResubscribe{})
	RegisterType(&MessageCloseGroup{})
}

func RegisterType(msg Message) {
	typeRegistry[msg.GetType()] = reflect.TypeOf(msg).Elem()
}
