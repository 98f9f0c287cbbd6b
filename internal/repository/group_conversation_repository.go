package repository

import (
	"context"
	"strings"
	"time"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/models"
)

// GroupSummaryRow is one group the user belongs to, joined with its latest
// message and the user's unread count. Message columns are NULL for groups
// with no messages yet.
type GroupSummaryRow struct {
	GroupID     uint   `gorm:"column:group_id"`
	GroupName   string `gorm:"column:group_name"`
	GroupAvatar string `gorm:"column:group_avatar"`

	UnreadCount int64 `gorm:"column:unread_count"`

	MessageID        *uint      `gorm:"column:message_id"`
	MessageContent   *string    `gorm:"column:message_content"`
	MessageKind      *string    `gorm:"column:message_kind"`
	MessageDeleted   *bool      `gorm:"column:message_deleted"`
	MessageCreatedAt *time.Time `gorm:"column:message_created_at"`
}

func (row GroupSummaryRow) Summary() models.GroupSummary {
	sum := models.GroupSummary{
		GroupID:     row.GroupID,
		Name:        row.GroupName,
		Avatar:      row.GroupAvatar,
		UnreadCount: int(row.UnreadCount),
	}
	if row.MessageID == nil {
		return sum
	}
	var kind models.MessageKind
	if row.MessageKind != nil {
		kind = models.MessageKind(*row.MessageKind)
	}
	deleted := row.MessageDeleted != nil && *row.MessageDeleted
	sum.LastMessageID = *row.MessageID
	sum.LastMessageAt = row.MessageCreatedAt
	sum.LastMessage = models.Preview(row.MessageContent, kind, deleted)
	return sum
}

// ListGroupSummaries returns every group userID belongs to in one query.
// Unread counts only messages from other members above the user's read mark
// that were not deleted for everyone.
func (r *GroupReadStateRepository) ListGroupSummaries(ctx context.Context, userID uint) ([]models.GroupSummary, error) {
	query := strings.TrimSpace(`
WITH ranked AS (
	SELECT
		m.group_id AS group_id,
		m.id AS message_id,
		m.content AS message_content,
		m.kind AS message_kind,
		m.deleted_for_everyone AS message_deleted,
		m.created_at AS message_created_at,
		ROW_NUMBER() OVER (
			PARTITION BY m.group_id
			ORDER BY m.id DESC
		) AS rn,
		SUM(CASE
			WHEN m.id > COALESCE(grs.last_read_message_id, 0)
				AND m.sender_id <> ?
				AND m.deleted_for_everyone = false
			THEN 1 ELSE 0 END
		) OVER (
			PARTITION BY m.group_id
		) AS unread_count
	FROM group_messages m
	JOIN group_members gm ON gm.group_id = m.group_id AND gm.user_id = ?
	LEFT JOIN group_read_states grs ON grs.group_id = m.group_id AND grs.user_id = ?
)
SELECT
	g.id AS group_id,
	g.name AS group_name,
	g.avatar AS group_avatar,
	COALESCE(t.unread_count, 0) AS unread_count,
	t.message_id,
	t.message_content,
	t.message_kind,
	t.message_deleted,
	t.message_created_at
FROM group_chats g
JOIN group_members me ON me.group_id = g.id AND me.user_id = ?
LEFT JOIN ranked t ON t.group_id = g.id AND t.rn = 1
ORDER BY t.message_created_at DESC NULLS LAST, g.id ASC
`)

	var rows []GroupSummaryRow
	if err := r.db.WithContext(ctx).Raw(query, userID, userID, userID, userID).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.GroupSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Summary())
	}
	return out, nil
}
