package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// Stream names one of the five row-change feeds. The value doubles as the
// logical table name in the event.
type Stream string

const (
	DirectMessages  Stream = "direct_message"
	Presence        Stream = "presence"
	DirectReactions Stream = "direct_reaction"
	GroupMessages   Stream = "group_message"
	GroupReactions  Stream = "group_reaction"
)

// Streams lists every stream a session subscribes to.
var Streams = []Stream{DirectMessages, Presence, DirectReactions, GroupMessages, GroupReactions}

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

var ErrUnknownStream = errors.New("unknown stream")

// RowChange is the wire shape of an authoritative change:
// { kind, table, row } with the row kept encoded until a consumer asks for it.
type RowChange struct {
	Op     Op                 `msgpack:"kind"`
	Stream Stream             `msgpack:"table"`
	Row    msgpack.RawMessage `msgpack:"row"`
}

// NewRowChange encodes row into a RowChange.
func NewRowChange(op Op, stream Stream, row interface{}) (RowChange, error) {
	raw, err := msgpack.Marshal(row)
	if err != nil {
		return RowChange{}, fmt.Errorf("encode %s row: %w", stream, err)
	}
	return RowChange{Op: op, Stream: stream, Row: raw}, nil
}

// Decode returns the typed entity snapshot carried by the change.
func (c RowChange) Decode() (interface{}, error) {
	var target interface{}
	switch c.Stream {
	case DirectMessages:
		target = &models.DirectMessage{}
	case GroupMessages:
		target = &models.GroupMessage{}
	case DirectReactions, GroupReactions:
		target = &models.Reaction{}
	case Presence:
		target = &models.Presence{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStream, c.Stream)
	}
	if err := msgpack.Unmarshal(c.Row, target); err != nil {
		return nil, fmt.Errorf("decode %s row: %w", c.Stream, err)
	}
	return target, nil
}

func (c RowChange) Marshal() ([]byte, error) {
	return msgpack.Marshal(c)
}

func UnmarshalRowChange(data []byte) (RowChange, error) {
	var c RowChange
	err := msgpack.Unmarshal(data, &c)
	return c, err
}

// Subscription delivers one stream's changes in arrival order.
type Subscription interface {
	Events() <-chan RowChange
	Close() error
}

// Publisher is implemented by anything that can announce a row change.
type Publisher interface {
	Publish(ctx context.Context, change RowChange) error
}

// Bus carries row changes from writers to subscribed sessions. Reconnect and
// backoff, if any, live inside the implementation.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, stream Stream) (Subscription, error)
}

// Announce encodes row and publishes it. A nil publisher is a no-op.
func Announce(ctx context.Context, p Publisher, op Op, stream Stream, row interface{}) error {
	if p == nil {
		return nil
	}
	change, err := NewRowChange(op, stream, row)
	if err != nil {
		return err
	}
	return p.Publish(ctx, change)
}
