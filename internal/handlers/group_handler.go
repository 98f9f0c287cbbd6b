package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/chatsync"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/httpx"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/validation"
	"github.com/rs/zerolog"
)

type GroupHandler struct {
	sessionHandler
}

func NewGroupHandler(sessions Sessions, limits validation.Limits, log zerolog.Logger) *GroupHandler {
	return &GroupHandler{sessionHandler{
		sessions: sessions,
		limits:   limits,
		log:      log.With().Str("handler", "groups").Logger(),
	}}
}

func (h *GroupHandler) GetMyGroups(c *fiber.Ctx) error {
	return h.withSession(c, func(ctx context.Context, s *chatsync.Session) error {
		groups, err := s.Groups.LoadGroups(ctx)
		if err != nil {
			return httpx.Internal(c, "fetch_groups_failed")
		}
		return c.JSON(fiber.Map{"groups": groups, "count": len(groups)})
	})
}

// GetGroupMessages opens the group in the caller's session, so live group
// updates follow it on the websocket.
func (h *GroupHandler) GetGroupMessages(c *fiber.Ctx) error {
	groupID, err := httpx.ParamUint(c, "id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_group", "Invalid group ID")
	}
	return h.withSession(c, func(ctx context.Context, s *chatsync.Session) error {
		messages, err := s.Groups.Open(ctx, groupID)
		if err != nil {
			return httpx.FromError(c, err, "fetch_messages_failed")
		}
		return c.JSON(fiber.Map{"messages": messages, "count": len(messages)})
	})
}

func (h *GroupHandler) SendGroupMessage(c *fiber.Ctx) error {
	groupID, err := httpx.ParamUint(c, "id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_group", "Invalid group ID")
	}
	in, err := parseSendInput(c, groupID, h.limits)
	if err != nil {
		return badInput(c, err)
	}

	return h.withSession(c, func(ctx context.Context, s *chatsync.Session) error {
		msg, out, err := s.Groups.Send(ctx, in)
		if err != nil {
			return httpx.FromError(c, err, "send_message_failed")
		}
		result := fiber.Map{}
		if err := out.Wait(ctx); err != nil {
			h.log.Warn().Err(err).Uint("message_id", msg.ID).Msg("attachment upload incomplete")
			result["upload_error"] = err.Error()
		}
		if current, ok := findGroupMessage(s.Groups.Messages(), msg.ID); ok {
			msg = &current
		}
		result["message"] = msg
		return c.Status(fiber.StatusCreated).JSON(result)
	})
}

func findGroupMessage(msgs []models.GroupMessage, id uint) (models.GroupMessage, bool) {
	for _, m := range msgs {
		if m.ID == id {
			return m, true
		}
	}
	return models.GroupMessage{}, false
}

// groupMessageParams reads :id and :mid. The stores reject a message that is
// not part of the group.
func groupMessageParams(c *fiber.Ctx) (groupID, messageID uint, ok bool) {
	groupID, err := httpx.ParamUint(c, "id")
	if err != nil {
		return 0, 0, false
	}
	messageID, err = httpx.ParamUint(c, "mid")
	if err != nil {
		return 0, 0, false
	}
	return groupID, messageID, true
}

func (h *GroupHandler) DeleteGroupMessage(c *fiber.Ctx) error {
	groupID, messageID, ok := groupMessageParams(c)
	if !ok {
		return httpx.BadRequest(c, "invalid_message", "Invalid group or message id")
	}
	forEveryone := c.QueryBool("for_everyone")
	return h.withSession(c, func(ctx context.Context, s *chatsync.Session) error {
		return settle(ctx, c, s.Groups.Remove(ctx, groupID, messageID, forEveryone), "delete_message_failed")
	})
}

func (h *GroupHandler) React(c *fiber.Ctx) error {
	groupID, messageID, ok := groupMessageParams(c)
	if !ok {
		return httpx.BadRequest(c, "invalid_message", "Invalid group or message id")
	}
	emoji, err := parseEmoji(c)
	if err != nil {
		return httpx.FromError(c, err, "invalid_emoji")
	}
	return h.withSession(c, func(ctx context.Context, s *chatsync.Session) error {
		return settle(ctx, c, s.Groups.React(ctx, groupID, messageID, emoji), "reaction_failed")
	})
}

func (h *GroupHandler) Unreact(c *fiber.Ctx) error {
	groupID, messageID, ok := groupMessageParams(c)
	if !ok {
		return httpx.BadRequest(c, "invalid_message", "Invalid group or message id")
	}
	return h.withSession(c, func(ctx context.Context, s *chatsync.Session) error {
		return settle(ctx, c, s.Groups.Unreact(ctx, groupID, messageID), "reaction_failed")
	})
}

func (h *GroupHandler) MarkGroupRead(c *fiber.Ctx) error {
	groupID, err := httpx.ParamUint(c, "id")
	if err != nil {
		return httpx.BadRequest(c, "invalid_group", "Invalid group ID")
	}
	return h.withSession(c, func(ctx context.Context, s *chatsync.Session) error {
		if err := s.Groups.MarkRead(ctx, groupID); err != nil {
			return httpx.FromError(c, err, "mark_read_failed")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
