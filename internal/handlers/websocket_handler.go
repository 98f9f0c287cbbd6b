package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/chatsync"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/handlers/ws"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/httpx"
	"github.com/rs/zerolog"
)

type WebSocketHandler struct {
	sessions Sessions
	hub      *ws.Hub
	debug    bool
	log      zerolog.Logger
}

func NewWebSocketHandler(sessions Sessions, hub *ws.Hub, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		hub:      hub,
		debug:    log.GetLevel() <= zerolog.DebugLevel,
		log:      log.With().Str("handler", "websocket").Logger(),
	}
}

// HandleWebSocket streams the user's session updates to the connection and
// applies the client frames it reads.
func (h *WebSocketHandler) HandleWebSocket(c *websocket.Conn) {
	userID, ok := c.Locals(httpx.UserIDKey).(uint)
	if !ok {
		_ = c.Close()
		return
	}
	supportsGzip := c.Query("gzip") == "1" || c.Headers("X-Supports-Gzip") == "1"
	log := h.log.With().Uint("user_id", userID).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := h.hub.Register(userID, c, supportsGzip)
	defer h.hub.Unregister(client)

	session, release, err := h.sessions.Acquire(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("session start failed")
		_ = ws.SendError(h.hub, client, "session_unavailable", "Sync session unavailable", err.Error())
		return
	}
	defer release()

	off := session.OnUpdate(func(u chatsync.Update) {
		if err := h.hub.SendUpdate(client, u); err != nil {
			log.Debug().Err(err).Str("kind", string(u.Kind)).Msg("update not delivered")
		}
	})
	defer off()

	_ = h.hub.Send(client, ws.MsgReady, readyPayload{UserID: userID, ConnectionID: client.ID})
	_ = h.hub.SendUpdate(client, chatsync.Update{Kind: chatsync.ConversationsUpdated, Conversations: session.Conversations.Conversations()})
	_ = h.hub.SendUpdate(client, chatsync.Update{Kind: chatsync.GroupsUpdated, Groups: session.Groups.Groups()})

	mctx := &ws.MessageContext{
		Ctx:     ctx,
		UserID:  userID,
		Client:  client,
		Hub:     h.hub,
		Session: session,
		Log:     log,
	}

	for {
		messageType, messageBytes, err := c.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("read loop ended")
			break
		}

		if h.debug {
			log.Debug().Int("frame_type", messageType).Int("size", len(messageBytes)).Msg("ws_recv")
		}

		if messageType == websocket.BinaryMessage {
			decompressed, err := ws.DecompressMessage(messageBytes)
			if err != nil {
				_ = ws.SendError(h.hub, client, "decompression_failed", "Failed to decompress message", err.Error())
				continue
			}
			messageBytes = decompressed
		}

		msg, err := ws.Deserialize(messageBytes)
		if err != nil {
			_ = ws.SendError(h.hub, client, "invalid_message", "Invalid message format", err.Error())
			continue
		}

		if err := msg.Process(mctx); err != nil {
			log.Debug().Err(err).Str("type", msg.GetType()).Msg("frame rejected")
			_ = ws.SendError(h.hub, client, ws.ErrorCode(err), "Failed to process "+msg.GetType(), err.Error())
		}
	}
}

type readyPayload struct {
	UserID       uint   `json:"user_id"`
	ConnectionID uint64 `json:"connection_id"`
}
