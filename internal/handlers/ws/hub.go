package ws

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/chatsync"
	"github.com/rs/zerolog"
)

const (
	gzipThreshold = 512
	writeWait     = 10 * time.Second
)

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// ClientConnection wraps one websocket connection of a user.
type ClientConnection struct {
	ID           uint64
	UserID       uint
	SupportsGzip bool

	conn      Conn
	writeWait time.Duration
	writeMu   sync.Mutex
	lastPong  atomic.Int64
	closeCh   chan struct{}
	closeOnce sync.Once
}

// Done is closed when the hub drops the connection.
func (c *ClientConnection) Done() <-chan struct{} {
	return c.closeCh
}

// write sends one frame. A peer that stops reading fails the write once
// writeWait passes instead of holding the caller.
func (c *ClientConnection) write(frameType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(frameType, data)
}

// Hub tracks every live connection. A user may hold several at once.
type Hub struct {
	clients    map[uint]map[uint64]*ClientConnection
	clientsMux sync.RWMutex
	nextID     atomic.Uint64

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeWait    time.Duration
	log          zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

var _ chatsync.Notifier = (*Hub)(nil)

func NewHub(log zerolog.Logger) *Hub {
	return newHub(log, 30*time.Second, 90*time.Second)
}

func newHub(log zerolog.Logger, pingInterval, pongTimeout time.Duration) *Hub {
	hub := &Hub{
		clients:      make(map[uint]map[uint64]*ClientConnection),
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		writeWait:    writeWait,
		log:          log.With().Str("component", "ws_hub").Logger(),
		done:         make(chan struct{}),
	}
	go hub.connectionHealthChecker()
	return hub
}

// Register adds a connection and starts its keepalive.
func (h *Hub) Register(userID uint, conn Conn, supportsGzip bool) *ClientConnection {
	client := &ClientConnection{
		ID:           h.nextID.Add(1),
		UserID:       userID,
		SupportsGzip: supportsGzip,
		conn:         conn,
		writeWait:    h.writeWait,
		closeCh:      make(chan struct{}),
	}
	client.lastPong.Store(time.Now().UnixNano())

	conn.SetPongHandler(func(string) error {
		client.lastPong.Store(time.Now().UnixNano())
		return conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
	})
	if err := conn.SetReadDeadline(time.Now().Add(h.pongTimeout)); err != nil {
		h.log.Debug().Err(err).Uint("user_id", userID).Msg("set read deadline failed")
	}

	h.clientsMux.Lock()
	conns, ok := h.clients[userID]
	if !ok {
		conns = make(map[uint64]*ClientConnection)
		h.clients[userID] = conns
	}
	conns[client.ID] = client
	total := h.countLocked()
	h.clientsMux.Unlock()

	go h.pingRoutine(client)

	h.log.Info().Uint("user_id", userID).Uint64("conn_id", client.ID).Int("total", total).Bool("gzip", supportsGzip).Msg("client connected")
	return client
}

// Unregister drops the connection and closes it. Calling it twice is safe.
func (h *Hub) Unregister(client *ClientConnection) {
	h.clientsMux.Lock()
	if conns, ok := h.clients[client.UserID]; ok {
		delete(conns, client.ID)
		if len(conns) == 0 {
			delete(h.clients, client.UserID)
		}
	}
	total := h.countLocked()
	h.clientsMux.Unlock()

	client.closeOnce.Do(func() {
		close(client.closeCh)
		_ = client.conn.Close()
		h.log.Info().Uint("user_id", client.UserID).Uint64("conn_id", client.ID).Int("total", total).Msg("client disconnected")
	})
}

func (h *Hub) IsOnline(userID uint) bool {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return len(h.clients[userID]) > 0
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return h.countLocked()
}

func (h *Hub) countLocked() int {
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

// Send writes one frame to client. A failed write drops the connection.
func (h *Hub) Send(client *ClientConnection, msgType string, payload interface{}) error {
	data, err := Encode(msgType, payload)
	if err != nil {
		return err
	}
	return h.sendRaw(client, data)
}

func (h *Hub) sendRaw(client *ClientConnection, data []byte) error {
	frameType := websocket.TextMessage
	if client.SupportsGzip && len(data) > gzipThreshold {
		compressed, err := compressData(data)
		if err == nil && len(compressed) < len(data) {
			data = compressed
			frameType = websocket.BinaryMessage
		}
	}

	if err := client.write(frameType, data); err != nil {
		h.log.Warn().Err(err).Uint("user_id", client.UserID).Uint64("conn_id", client.ID).Msg("write failed")
		h.Unregister(client)
		return err
	}
	return nil
}

// SendUpdate pushes a session view update framed under its kind.
func (h *Hub) SendUpdate(client *ClientConnection, u chatsync.Update) error {
	return h.Send(client, string(u.Kind), u)
}

// SendToUser writes one frame to every connection of userID and returns how
// many received it.
func (h *Hub) SendToUser(userID uint, msgType string, payload interface{}) (int, error) {
	data, err := Encode(msgType, payload)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, client := range h.connections(userID) {
		if h.sendRaw(client, data) == nil {
			sent++
		}
	}
	return sent, nil
}

// Notify pushes a notification frame to whichever recipients are connected.
// Offline recipients are skipped.
func (h *Hub) Notify(ctx context.Context, userIDs []uint, n chatsync.Notification) error {
	data, err := Encode(MsgNotification, n)
	if err != nil {
		return err
	}
	var errs []error
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, client := range h.connections(userID) {
			if err := h.sendRaw(client, data); err != nil {
				errs = append(errs, fmt.Errorf("notify user %d: %w", userID, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (h *Hub) connections(userID uint) []*ClientConnection {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	out := make([]*ClientConnection, 0, len(h.clients[userID]))
	for _, c := range h.clients[userID] {
		out = append(out, c)
	}
	return out
}

// Close stops the health checker and drops every connection.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
	h.clientsMux.RLock()
	all := make([]*ClientConnection, 0)
	for _, conns := range h.clients {
		for _, c := range conns {
			all = append(all, c)
		}
	}
	h.clientsMux.RUnlock()
	for _, c := range all {
		h.Unregister(c)
	}
}

// pingRoutine sends periodic pings until the connection goes away.
func (h *Hub) pingRoutine(client *ClientConnection) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Uint("user_id", client.UserID).Msg("ping routine recovered")
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-client.closeCh:
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				h.log.Debug().Err(err).Uint("user_id", client.UserID).Msg("ping failed")
				h.Unregister(client)
				return
			}
		}
	}
}

// connectionHealthChecker drops connections that stopped answering pings.
func (h *Hub) connectionHealthChecker() {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			for _, client := range h.stale(time.Now()) {
				h.log.Info().Uint("user_id", client.UserID).Uint64("conn_id", client.ID).Msg("removing dead connection")
				h.Unregister(client)
			}
		}
	}
}

func (h *Hub) stale(now time.Time) []*ClientConnection {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	var dead []*ClientConnection
	for _, conns := range h.clients {
		for _, c := range conns {
			if now.Sub(time.Unix(0, c.lastPong.Load())) > h.pongTimeout {
				dead = append(dead, c)
			}
		}
	}
	return dead
}

func compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	if _, err := gzipWriter.Write(data); err != nil {
		return nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressMessage inflates a gzip frame sent by a client.
func DecompressMessage(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
