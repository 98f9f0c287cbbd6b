package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/chatsync"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/httpx"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
	"github.com/laserpointoman-commits/talebEdu-sub002/internal/validation"
	"github.com/rs/zerolog"
)

// Sessions hands out the shared sync session of a user.
type Sessions interface {
	Acquire(ctx context.Context, userID uint) (*chatsync.Session, func(), error)
}

type sessionHandler struct {
	sessions Sessions
	limits   validation.Limits
	log      zerolog.Logger
}

// withSession runs fn against the caller's session and releases it after.
func (h *sessionHandler) withSession(c *fiber.Ctx, fn func(ctx context.Context, s *chatsync.Session) error) error {
	userID, err := httpx.LocalUint(c, httpx.UserIDKey)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	ctx := c.UserContext()
	s, release, err := h.sessions.Acquire(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Uint("user_id", userID).Msg("session start failed")
		return httpx.Error(c, fiber.StatusServiceUnavailable, "session_unavailable", "Sync session unavailable")
	}
	defer release()
	return fn(ctx, s)
}

// settle waits for an authoritative write and answers 204 or the mapped
// error. The local change is applied either way.
func settle(ctx context.Context, c *fiber.Ctx, out *chatsync.Outcome, code string) error {
	if err := out.Wait(ctx); err != nil {
		return httpx.FromError(c, err, code)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type sendRequest struct {
	Content         string `json:"content"`
	ReplyToID       *uint  `json:"reply_to_id"`
	ForwardedFromID *uint  `json:"forwarded_from_id"`
	Kind            string `json:"kind"`
	VoiceDuration   *int   `json:"voice_duration"`
}

var errInvalidKind = errors.New("invalid message kind")

// parseSendInput reads a JSON or multipart message body. Multipart bodies may
// carry files under the "files" field.
func parseSendInput(c *fiber.Ctx, peerID uint, limits validation.Limits) (chatsync.SendInput, error) {
	in := chatsync.SendInput{PeerID: peerID}

	var req sendRequest
	if c.Is("json") {
		if err := c.BodyParser(&req); err != nil {
			return in, err
		}
	} else {
		req.Content = c.FormValue("content")
		req.Kind = c.FormValue("kind")
		var err error
		if req.ReplyToID, err = optionalUint(c.FormValue("reply_to")); err != nil {
			return in, err
		}
		if req.ForwardedFromID, err = optionalUint(c.FormValue("forward_from")); err != nil {
			return in, err
		}
		if v := strings.TrimSpace(c.FormValue("voice_duration")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return in, errors.New("invalid voice_duration")
			}
			req.VoiceDuration = &n
		}
		if form, err := c.MultipartForm(); err == nil {
			files, err := readFiles(form.File["files"], limits)
			if err != nil {
				return in, err
			}
			in.Files = files
		}
	}

	content, err := limits.NormalizeContent(req.Content)
	if err != nil {
		return in, err
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		return in, err
	}
	in.Content = content
	in.Kind = kind
	in.ReplyToID = req.ReplyToID
	in.ForwardedFromID = req.ForwardedFromID
	in.VoiceDuration = req.VoiceDuration
	return in, nil
}

func optionalUint(v string) (*uint, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil || n == 0 {
		return nil, errors.New("invalid message reference")
	}
	id := uint(n)
	return &id, nil
}

func parseKind(v string) (models.MessageKind, error) {
	switch k := models.MessageKind(strings.ToLower(strings.TrimSpace(v))); k {
	case "":
		return "", nil
	case models.TextMessage, models.VoiceMessage, models.ImageMessage, models.VideoMessage, models.FileMessage:
		return k, nil
	default:
		return "", errInvalidKind
	}
}

func readFiles(headers []*multipart.FileHeader, limits validation.Limits) ([]chatsync.LocalFile, error) {
	names := make([]string, len(headers))
	sizes := make([]int64, len(headers))
	for i, fh := range headers {
		names[i], sizes[i] = fh.Filename, fh.Size
	}
	if err := limits.CheckFiles(names, sizes); err != nil {
		return nil, err
	}

	files := make([]chatsync.LocalFile, 0, len(headers))
	for _, fh := range headers {
		name, _ := validation.NormalizeFileName(fh.Filename)
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, chatsync.LocalFile{
			Name:     name,
			MimeType: fh.Header.Get(fiber.HeaderContentType),
			Data:     data,
		})
	}
	return files, nil
}

// badInput answers 400 for parse failures and the mapped status otherwise.
func badInput(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, validation.ErrContentTooLong),
		errors.Is(err, validation.ErrTooManyFiles),
		errors.Is(err, validation.ErrFileTooLarge),
		errors.Is(err, validation.ErrInvalidFileName):
		return httpx.FromError(c, err, "invalid_message")
	default:
		return httpx.BadRequest(c, "invalid_request_body", err.Error())
	}
}
