package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/chatsync"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/httpx"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/validation"
	"github.com/rs/zerolog"
)

type MessageHandler struct {
	sessionHandler
	previews *chatsync.PreviewRegistry
}

func NewMessageHandler(sessions Sessions, previews *chatsync.PreviewRegistry, limits validation.Limits, log zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		sessionHandler: sessionHandler{
			sessions: sessions,
			limits:   limits,
			log:      log.With().Str("handler", "messages").Logger(),
		},
		previews: previews,
	}
}

func (h *MessageHandler) GetConversations(c *fiber.Ctx) error {
	return h.withSession(c, func(ctx context.Context, s *chatsync.Session) error {
		convs := s.Conversations.Conversations()
		if c.QueryBool("refresh") {
			var err error
			if convs, err = s.Conversations.Rebuild(ctx); err != nil {
				return httpx.Internal(c, "fetch_conversations_failed")
			}
		}
		return c.JSON(fiber.Map{
			"conversations": convs,
			"count":         len(convs),
		})
	})
}

func (h *MessageHandler) GetMessages(c *fiber.Ctx) error {
	peerID, err := httpx.ParamUint(c, "peer_id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_peer", "Invalid peer_id")
	}
	return h.withSession(c, func(ctx context.Context, s *chatsync.Session) error {
		messages, err := s.Messages.Load(ctx, peerID)
		if err != nil {
			return httpx.FromError(c, err, "fetch_messages_failed")
		}
		return c.JSON(fiber.Map{
			"messages": messages,
			"count":    len(messages),
		})
	})
}

// SendMessage accepts JSON or multipart. With files, the response waits for
// the uploads and carries the durable attachments; a partial upload still
// answers 201 with upload_error set.
func (h *MessageHandler) SendMessage(c *fiber.Ctx) error {
	peerID, err := httpx.ParamUint(c, "peer_id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_peer", "Invalid peer_id")
	}
	in, err := parseSendInput(c, peerID, h.limits)
	if err != nil {
		return badInput(c, err)
	}

	return h.withSession(c, func(ctx context.Context, s *chatsync.Session) error {
		msg, out, err := s.Messages.Send(ctx, in)
		if err != nil {
			return httpx.FromError(c, err, "send_message_failed")
		}
		result := fiber.Map{}
		if err := out.Wait(ctx); err != nil {
			h.log.Warn().Err(err).Uint("message_id", msg.ID).Msg("attachment upload incomplete")
			result["upload_error"] = err.Error()
		}
		if current, ok := s.Messages.Message(msg.ID); ok {
			msg = &current
		}
		result["message"] = msg
		return c.Status(fiber.StatusCreated).JSON(result)
	})
}

func (h *MessageHandler) DeleteMessage(c *fiber.Ctx) error {
	id, err := httpx.ParamUint(c, "id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_message", "Invalid message id")
	}
	forEveryone := c.QueryBool("for_everyone")
	return h.withSession(c, func(ctx context.Context, s *chatsync.Session) error {
		return settle(ctx, c, s.Messages.Remove(ctx, id, forEveryone), "delete_message_failed")
	})
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

func (h *MessageHandler) React(c *fiber.Ctx) error {
	id, err := httpx.ParamUint(c, "id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_message", "Invalid message id")
	}
	emoji, err := parseEmoji(c)
	if err != nil {
		return httpx.FromError(c, err, "invalid_emoji")
	}
	return h.withSession(c, func(ctx context.Context, s *chatsync.Session) error {
		return settle(ctx, c, s.Messages.React(ctx, id, emoji), "reaction_failed")
	})
}

func (h *MessageHandler) Unreact(c *fiber.Ctx) error {
	id, err := httpx.ParamUint(c, "id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_message", "Invalid message id")
	}
	return h.withSession(c, func(ctx context.Context, s *chatsync.Session) error {
		return settle(ctx, c, s.Messages.Unreact(ctx, id), "reaction_failed")
	})
}

func parseEmoji(c *fiber.Ctx) (string, error) {
	var req reactionRequest
	if err := c.BodyParser(&req); err != nil {
		return "", validation.ErrInvalidEmoji
	}
	return validation.NormalizeEmoji(req.Emoji)
}

func (h *MessageHandler) MarkConversationRead(c *fiber.Ctx) error {
	peerID, err := httpx.ParamUint(c, "peer_id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_peer", "Invalid peer_id")
	}
	return h.withSession(c, func(ctx context.Context, s *chatsync.Session) error {
		n, err := s.Messages.MarkRead(ctx, peerID)
		if err != nil {
			return httpx.Internal(c, "mark_read_failed")
		}
		return c.JSON(fiber.Map{"marked": n})
	})
}

type typingRequest struct {
	PeerID   uint `json:"peer_id"`
	IsTyping bool `json:"is_typing"`
}

// SetTyping is debounced server side, so it answers before the write lands.
func (h *MessageHandler) SetTyping(c *fiber.Ctx) error {
	var req typingRequest
	if err := c.BodyParser(&req); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}
	userID, _ := httpx.LocalUint(c, httpx.UserIDKey)
	if req.IsTyping && (req.PeerID == 0 || req.PeerID == userID) {
		return httpx.FromError(c, chatsync.ErrInvalidRecipient, "typing_failed")
	}
	return h.withSession(c, func(ctx context.Context, s *chatsync.Session) error {
		s.Presence.SetTyping(req.PeerID, req.IsTyping)
		return c.SendStatus(fiber.StatusAccepted)
	})
}

type chatStateRequest struct {
	Action string `json:"action"`
}

// UpdateChatState applies pin, unpin, archive, unarchive, delete or restore.
func (h *MessageHandler) UpdateChatState(c *fiber.Ctx) error {
	peerID, err := httpx.ParamUint(c, "peer_id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_peer", "Invalid peer_id")
	}
	var req chatStateRequest
	if err := c.BodyParser(&req); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	return h.withSession(c, func(ctx context.Context, s *chatsync.Session) error {
		org := s.Organization
		var out *chatsync.Outcome
		switch strings.ToLower(strings.TrimSpace(req.Action)) {
		case "pin":
			out = org.Pin(ctx, peerID, true)
		case "unpin":
			out = org.Pin(ctx, peerID, false)
		case "archive":
			out = org.Archive(ctx, peerID, true)
		case "unarchive":
			out = org.Archive(ctx, peerID, false)
		case "delete":
			out = org.Delete(ctx, peerID)
		case "restore":
			out = org.Restore(ctx, peerID)
		default:
			return httpx.BadRequest(c, "invalid_action", "Unknown chat state action")
		}
		if err := out.Wait(ctx); err != nil {
			return httpx.FromError(c, err, "chat_state_failed")
		}
		return c.JSON(org.State(peerID))
	})
}

// GetPreview serves the bytes behind a transient attachment while its upload
// is still running.
func (h *MessageHandler) GetPreview(c *fiber.Ctx) error {
	data, ok := h.previews.Get(chatsync.PreviewRef(c.Params("id")))
	if !ok {
		return httpx.NotFound(c, "preview_not_found", "Preview not found")
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Type("bin")
	return c.Send(data)
}
