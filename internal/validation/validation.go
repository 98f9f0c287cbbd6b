package validation

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxEmojiBytes    = 32
	MaxFileNameBytes = 255
)

var (
	ErrContentTooLong  = errors.New("message is too long")
	ErrInvalidEmoji    = errors.New("invalid emoji")
	ErrInvalidFileName = errors.New("invalid file name")
	ErrTooManyFiles    = errors.New("too many attachments")
	ErrFileTooLarge    = errors.New("attachment is too large")
)

// Limits bounds what a client may submit in one message.
type Limits struct {
	MaxMessageLength   int
	MaxAttachmentBytes int64
	MaxAttachments     int
}

// NormalizeContent trims surrounding whitespace and checks the length in
// characters.
func (l Limits) NormalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if l.MaxMessageLength > 0 && utf8.RuneCountInString(content) > l.MaxMessageLength {
		return "", fmt.Errorf("%w (max %d characters)", ErrContentTooLong, l.MaxMessageLength)
	}
	return content, nil
}

// CheckFiles validates attachment count, sizes and names.
func (l Limits) CheckFiles(names []string, sizes []int64) error {
	if l.MaxAttachments > 0 && len(names) > l.MaxAttachments {
		return fmt.Errorf("%w (max %d)", ErrTooManyFiles, l.MaxAttachments)
	}
	for i, name := range names {
		if _, err := NormalizeFileName(name); err != nil {
			return err
		}
		if i < len(sizes) && l.MaxAttachmentBytes > 0 && sizes[i] > l.MaxAttachmentBytes {
			return fmt.Errorf("%w: %s", ErrFileTooLarge, name)
		}
	}
	return nil
}

// NormalizeEmoji accepts one short, printable token without whitespace.
func NormalizeEmoji(emoji string) (string, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > MaxEmojiBytes || !utf8.ValidString(emoji) {
		return "", ErrInvalidEmoji
	}
	for _, r := range emoji {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", ErrInvalidEmoji
		}
	}
	return emoji, nil
}

// NormalizeFileName keeps only the base name a client sent.
func NormalizeFileName(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", ErrInvalidFileName
	}
	if len(name) > MaxFileNameBytes || !utf8.ValidString(name) {
		return "", ErrInvalidFileName
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", ErrInvalidFileName
		}
	}
	return name, nil
}
