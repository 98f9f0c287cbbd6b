package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/chatsync"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/validation"
	"github.com/rs/zerolog"
)

// MessageContext carries what a client frame needs to act on the user's
// sync session.
type MessageContext struct {
	Ctx     context.Context
	UserID  uint
	Client  *ClientConnection
	Hub     *Hub
	Session *chatsync.Session
	Log     zerolog.Logger
}

// Message interface for all client frame types
type Message interface {
	GetType() string
	Process(ctx *MessageContext) error
}

// SerializedMessage is the wire format wrapper
type SerializedMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorResponse is sent when a frame fails, synchronously or once its write
// has settled.
type ErrorResponse struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func CreateMessage(msgType string, typeRegistry map[string]reflect.Type) (Message, error) {
	msgTypeReflect, ok := typeRegistry[msgType]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", msgType)
	}

	instance := reflect.New(msgTypeReflect).Interface()
	return instance.(Message), nil
}

// SendError sends an error frame to one connection.
func SendError(hub *Hub, client *ClientConnection, code, message, details string) error {
	data, err := json.Marshal(ErrorResponse{
		Type:    MsgError,
		Error:   message,
		Code:    code,
		Details: details,
	})
	if err != nil {
		return err
	}
	return hub.sendRaw(client, data)
}

// ErrorCode maps a processing error to the code sent to the client.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, chatsync.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, chatsync.ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, chatsync.ErrNotMember):
		return "not_member"
	case errors.Is(err, chatsync.ErrNotAuthor):
		return "not_author"
	case errors.Is(err, chatsync.ErrMessageNotFound):
		return "not_found"
	case errors.Is(err, chatsync.ErrEmptyEmoji), errors.Is(err, validation.ErrInvalidEmoji):
		return "invalid_emoji"
	case errors.Is(err, chatsync.ErrSessionClosed), errors.Is(err, chatsync.ErrRouterStopped):
		return "session_closed"
	default:
		return "processing_failed"
	}
}

// reportOutcome sends an error frame if the authoritative write behind o
// fails. The local change stays applied either way.
func reportOutcome(ctx *MessageContext, op string, o *chatsync.Outcome) {
	go func() {
		err := o.Wait(ctx.Ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		ctx.Log.Debug().Err(err).Str("op", op).Msg("write failed after local apply")
		_ = SendError(ctx.Hub, ctx.Client, ErrorCode(err), op+" failed", err.Error())
	}()
}
